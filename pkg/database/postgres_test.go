package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: "23505", ConstraintName: "business_concepts_concept_fingerprint_key"},
			expected: true,
		},
		{
			name:     "wrapped unique violation",
			err:      fmt.Errorf("failed to create concept: %w", &pgconn.PgError{Code: "23505"}),
			expected: true,
		},
		{
			name:     "other pg error",
			err:      &pgconn.PgError{Code: "42P01"},
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.expected {
				t.Errorf("IsUniqueViolation(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassifyStoreError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		if got := ClassifyStoreError(nil); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("unique violation maps to ErrConflict", func(t *testing.T) {
		err := ClassifyStoreError(&pgconn.PgError{Code: "23505"})
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("connection exception maps to ErrStoreUnavailable", func(t *testing.T) {
		err := ClassifyStoreError(&pgconn.PgError{Code: "08006"})
		if !errors.Is(err, apperrors.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("admin shutdown maps to ErrStoreUnavailable", func(t *testing.T) {
		err := ClassifyStoreError(&pgconn.PgError{Code: "57P01"})
		if !errors.Is(err, apperrors.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("deadline exceeded maps to ErrStoreUnavailable", func(t *testing.T) {
		err := ClassifyStoreError(fmt.Errorf("query: %w", context.DeadlineExceeded))
		if !errors.Is(err, apperrors.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		orig := errors.New("syntax error")
		err := ClassifyStoreError(orig)
		if !errors.Is(err, orig) {
			t.Errorf("expected original error preserved, got %v", err)
		}
		if errors.Is(err, apperrors.ErrStoreUnavailable) || errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("unexpected classification: %v", err)
		}
	})
}
