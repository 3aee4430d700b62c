package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"score": 85, "insight": "strong demand"}`,
			expected: `{"score": 85, "insight": "strong demand"}`,
		},
		{
			name:     "object in markdown fence",
			response: "```json\n{\"score\": 70}\n```",
			expected: `{"score": 70}`,
		},
		{
			name:     "object after prose",
			response: `Here is my assessment: {"score": 42, "insight": "niche"}`,
			expected: `{"score": 42, "insight": "niche"}`,
		},
		{
			name:     "think tags stripped",
			response: "<think>hmm, food delivery again</think>{\"score\": 15}",
			expected: `{"score": 15}`,
		},
		{
			name:     "nested object",
			response: `{"score": 90, "detail": {"market": "large"}}`,
			expected: `{"score": 90, "detail": {"market": "large"}}`,
		},
		{
			name:     "braces inside strings",
			response: `{"insight": "use {placeholders} carefully"}`,
			expected: `{"insight": "use {placeholders} carefully"}`,
		},
		{
			name:     "array",
			response: `[1, 2, 3]`,
			expected: `[1, 2, 3]`,
		},
		{
			name:     "no json",
			response: "I cannot answer that.",
			wantErr:  true,
		},
		{
			name:     "unbalanced",
			response: `{"score": 85`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.expected)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("extracted JSON is not valid: %q", got)
			}
		})
	}
}
