package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonTransportOpen)
	if Reason(err) != ReasonTransportOpen {
		t.Fatalf("expected reason %s, got %s", ReasonTransportOpen, Reason(err))
	}
	if !HasReason(err, ReasonTransportOpen) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonPermissionDenied)
	second := Wrap(first, ReasonTransportOpen)
	if Reason(second) != ReasonPermissionDenied {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestRecoverable(t *testing.T) {
	if ReasonPermissionDenied.Recoverable() {
		t.Fatalf("permission failures must not be retried")
	}
	if !ReasonTransportClose.Recoverable() {
		t.Fatalf("transport close should be retryable")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
