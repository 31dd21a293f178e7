package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	if !cb.Allow() {
		t.Fatalf("fresh breaker should allow")
	}
	cb.OnFailure()
	cb.OnFailure()
	if !cb.Allow() {
		t.Fatalf("breaker opened before threshold")
	}
	cb.OnFailure()
	if cb.Allow() {
		t.Fatalf("breaker still closed after threshold failures")
	}
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.OnFailure()
	cb.OnFailure()
	if cb.Allow() {
		t.Fatalf("breaker should be open")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("breaker still open after success")
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fn ran %d times, want 2", calls)
	}
}

func TestRetryPolicyExhausts(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	calls := 0
	wantErr := errors.New("still broken")
	err := p.Do(func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do returned %v, want original error", err)
	}
	if calls != 3 {
		t.Fatalf("fn ran %d times, want 3", calls)
	}
}
