package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHTTPCheckerStatuses tests readiness classification by status code
func TestHTTPCheckerStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		ready  bool
	}{
		{"ok", http.StatusOK, true},
		{"redirect counts as ready", http.StatusFound, true},
		{"auth demanded counts as ready", http.StatusUnauthorized, true},
		{"not found counts as ready", http.StatusNotFound, true},
		{"server error is not ready", http.StatusInternalServerError, false},
		{"bad gateway is not ready", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			result := NewHTTPChecker(srv.URL).Check(context.Background())
			assert.Equal(t, tt.ready, result.Ready)
			assert.NotEmpty(t, result.Message)
		})
	}
}

// TestHTTPCheckerUnreachable tests the connection-refused path
func TestHTTPCheckerUnreachable(t *testing.T) {
	result := NewHTTPChecker("http://127.0.0.1:1").Check(context.Background())
	assert.False(t, result.Ready)
}

// TestTCPChecker tests readiness of a raw listening port
func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, result.Ready)

	result = NewTCPChecker("127.0.0.1:1").Check(context.Background())
	assert.False(t, result.Ready)
}

// TestWaitReady tests polling until a slow service comes up
func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := WaitReady(ctx, NewHTTPChecker(srv.URL), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

// TestWaitReadyTimeout tests that the deadline carries the last failure
func TestWaitReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := WaitReady(ctx, NewHTTPChecker(srv.URL), 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lab not ready")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
