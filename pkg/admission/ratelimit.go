package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

// RateLimitResult reports the limiter's decision for one request
type RateLimitResult struct {
	Allowed     bool   `json:"allowed"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

// RateLimiter enforces a per-identity sliding-window limit over the
// persisted store. State is read-modify-written under a per-identity
// lock so concurrent requests from one identity serialize.
type RateLimiter struct {
	policy config.RateLimitPolicy
	store  storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is replaceable in tests
	now func() time.Time
}

// NewRateLimiter creates a rate limiter backed by the given store
func NewRateLimiter(policy config.RateLimitPolicy, store storage.Store) *RateLimiter {
	return &RateLimiter{
		policy: policy,
		store:  store,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (r *RateLimiter) lockFor(identity string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		r.locks[identity] = l
	}
	return l
}

// Check records one request and decides whether it may proceed.
//
// Timestamps older than the window are dropped first. An active block
// denies immediately with the remaining wait. Reaching the hard
// threshold starts a new block and resets the warned flag. Otherwise
// the request is recorded; crossing the warn threshold attaches a
// one-time warning, and falling back under the soft threshold re-arms
// the warning for a later burst.
func (r *RateLimiter) Check(identity string) (RateLimitResult, error) {
	l := r.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	now := r.now()
	cutoff := now.Add(-r.policy.Window)

	entry, err := r.store.GetRateLimit(identity)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to load rate limit state: %w", err)
	}

	if !entry.BlockedUntil.IsZero() && now.Before(entry.BlockedUntil) {
		remaining := int(entry.BlockedUntil.Sub(now).Seconds())
		log.AuditWarn("RATE_LIMIT_BLOCKED").
			Str("user", identity).
			Int("wait_seconds", remaining).
			Send()
		return RateLimitResult{Allowed: false, WaitSeconds: remaining}, nil
	}

	var kept []time.Time
	for _, ts := range entry.Timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	count := len(kept)

	if count >= r.policy.HardThreshold {
		entry.Timestamps = kept
		entry.BlockedUntil = now.Add(r.policy.BlockDuration)
		entry.Warned = false
		if err := r.store.PutRateLimit(identity, entry); err != nil {
			return RateLimitResult{}, fmt.Errorf("failed to persist rate limit state: %w", err)
		}
		log.AuditWarn("RATE_LIMIT_EXCEEDED").
			Str("user", identity).
			Int("count", count).
			Send()
		wait := int(r.policy.BlockDuration.Seconds())
		return RateLimitResult{Allowed: false, WaitSeconds: wait}, nil
	}

	kept = append(kept, now)
	entry.Timestamps = kept
	entry.BlockedUntil = time.Time{}

	result := RateLimitResult{Allowed: true}
	if count >= r.policy.WarnThreshold && !entry.Warned {
		result.Warning = "You're sending commands quickly. Please slow down."
		entry.Warned = true
	} else if count < r.policy.SoftThreshold {
		entry.Warned = false
	}

	if err := r.store.PutRateLimit(identity, entry); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to persist rate limit state: %w", err)
	}
	return result, nil
}

// CheckErr is Check returning the taxonomy error on denial
func (r *RateLimiter) CheckErr(identity string) (string, error) {
	result, err := r.Check(identity)
	if err != nil {
		return "", err
	}
	if !result.Allowed {
		return "", &types.RateLimitError{Identity: identity, WaitSeconds: result.WaitSeconds}
	}
	return result.Warning, nil
}
