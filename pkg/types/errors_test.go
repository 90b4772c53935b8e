package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorClassification tests errors.Is across wrapped taxonomy errors
func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"wrapped validation", fmt.Errorf("input rejected: %w", ErrValidation), ErrValidation},
		{"quota owner", &QuotaError{Owner: "alice", Limit: 3}, ErrQuotaExceeded},
		{"quota global", &QuotaError{Global: true}, ErrQuotaExceeded},
		{"permission", &PermissionError{Identity: "eve", Reason: "no_role"}, ErrPermissionDenied},
		{"rate limit", &RateLimitError{Identity: "mallory", WaitSeconds: 42}, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

// TestQuotaErrorMessages tests the user-facing denial text
func TestQuotaErrorMessages(t *testing.T) {
	err := &QuotaError{Owner: "alice", Limit: 3, Running: []string{"dvwa", "webgoat", "juice-shop"}}
	assert.Equal(t, "you already have 3 labs running (dvwa, webgoat, juice-shop)", err.Error())

	global := &QuotaError{Global: true, Limit: 50}
	assert.Contains(t, global.Error(), "capacity")
}

// TestRateLimitErrorMessage tests the wait hint
func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{Identity: "mallory", WaitSeconds: 42}
	assert.Contains(t, err.Error(), "42s")
}
