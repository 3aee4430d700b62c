// Package llm provides the OpenAI-compatible client used to score unique
// business concepts.
package llm

import (
	"context"
)

// ScoringClient defines the interface for LLM scoring operations.
// Use this interface for dependency injection to enable mocking in tests.
type ScoringClient interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure Client implements ScoringClient at compile time.
var _ ScoringClient = (*Client)(nil)
