package ledger

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Fantasim/solmigrate/internal/config"
)

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 20*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != config.CircuitClosed {
		t.Fatalf("expected closed after 1 failure, got %s", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != config.CircuitOpen {
		t.Fatalf("expected open after 2 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker must block")
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe request after cooldown")
	}
	if cb.State() != config.CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("half-open breaker allows only one probe")
	}

	cb.RecordSuccess()
	if cb.State() != config.CircuitClosed || cb.ConsecutiveFailures() != 0 {
		t.Fatalf("expected closed and reset, got %s/%d", cb.State(), cb.ConsecutiveFailures())
	}
}

func TestCircuitBreaker_DoIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)

	err := cb.Do(func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v", err)
	}
	if cb.State() != config.CircuitClosed {
		t.Errorf("cancellation must not trip the breaker, state = %s", cb.State())
	}

	_ = cb.Do(func() error { return errors.New("boom") })
	if err := cb.Do(func() error { return nil }); !errors.Is(err, config.ErrCircuitOpen) {
		t.Errorf("Do() error = %v, want ErrCircuitOpen", err)
	}
}

func TestRateLimiter_WaitCancelledContext(t *testing.T) {
	rl := NewRateLimiter("slow", 1)
	if rl.Name() != "slow" {
		t.Errorf("Name() = %q", rl.Name())
	}

	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"missing", "", 0},
		{"seconds", "30", 30 * time.Second},
		{"zero", "0", 0},
		{"garbage", "soon", 0},
		{"past date", "Thu, 01 Dec 1994 16:00:00 GMT", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			if got := parseRetryAfter(h); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}
