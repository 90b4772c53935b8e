package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the orchestrator error taxonomy. Call sites wrap
// these with fmt.Errorf("...: %w", ...) so callers can classify failures
// with errors.Is without parsing messages.
var (
	// ErrValidation marks sanitizer rejections. The matched pattern is
	// audit-logged but never attached to the error.
	ErrValidation = errors.New("invalid input")

	// ErrPermissionDenied marks access-control failures
	ErrPermissionDenied = errors.New("permission denied")

	// ErrQuotaExceeded marks per-owner or global ceiling violations
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotFound marks unknown lab types and missing instances
	ErrNotFound = errors.New("not found")

	// ErrRuntimeFailure marks container engine errors
	ErrRuntimeFailure = errors.New("runtime failure")

	// ErrTimeout marks driver calls that exceeded their ceiling
	ErrTimeout = errors.New("operation timed out")

	// ErrRateLimited marks requests rejected by the rate limiter
	ErrRateLimited = errors.New("rate limited")

	// ErrPersistenceCorrupt marks unreadable persisted state. Reads
	// recover by treating the store as empty; only write failures
	// surface this to callers.
	ErrPersistenceCorrupt = errors.New("persisted state corrupt")
)

// QuotaError carries the owner's currently running lab types so the
// denial message can list them.
type QuotaError struct {
	Owner   string
	Limit   int
	Running []string
	Global  bool
}

func (e *QuotaError) Error() string {
	if e.Global {
		return "server lab capacity reached, try again later"
	}
	if len(e.Running) > 0 {
		return fmt.Sprintf("you already have %d labs running (%s)",
			e.Limit, strings.Join(e.Running, ", "))
	}
	return fmt.Sprintf("you already have %d labs running", e.Limit)
}

// Unwrap makes errors.Is(err, ErrQuotaExceeded) hold for QuotaError
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// PermissionError carries the structured denial reason plus the
// remediation text shown to the requester.
type PermissionError struct {
	Identity    string
	Reason      string
	Remediation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("access denied for %s: %s", e.Identity, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// RateLimitError reports how long the requester must wait
type RateLimitError struct {
	Identity    string
	WaitSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests, wait %ds", e.WaitSeconds)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
