// Package probe verifies that a freshly provisioned lab actually answers
// on its service port. Lab images can take a while to initialize; the
// probe lets callers wait for readiness instead of handing out a URL
// that still refuses connections.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Result is the outcome of one readiness check
type Result struct {
	Ready     bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs a single readiness check against a lab endpoint
type Checker interface {
	Check(ctx context.Context) Result
}

// HTTPChecker considers the lab ready when its web service answers with
// any non-5xx status. Lab frontends commonly redirect or demand auth on
// first contact, so those count as ready.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates a readiness checker for a lab URL
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL: url,
		Client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	ready := resp.StatusCode < 500
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return Result{
		Ready:     ready,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// TCPChecker considers the lab ready when its port accepts a connection.
// Used for labs that expose a raw service rather than a web frontend.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a readiness checker for host:port
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("connect failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Ready:     true,
		Message:   "port accepting connections",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WaitReady polls the checker until it reports ready or the context
// expires. The last failure message is included in the timeout error.
func WaitReady(ctx context.Context, c Checker, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := "no check completed"
	for {
		result := c.Check(ctx)
		if result.Ready {
			return nil
		}
		last = result.Message

		select {
		case <-ctx.Done():
			return fmt.Errorf("lab not ready: %s: %w", last, ctx.Err())
		case <-ticker.C:
		}
	}
}
