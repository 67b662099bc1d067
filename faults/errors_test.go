package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesKindThroughFmtWrapping(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fmt.Errorf("outer: %w", Wrap(KindInternal, "FG-INT-001", "encode failed", cause))

	if !IsKind(err, KindInternal) {
		t.Fatalf("expected KindInternal, got %q", KindOf(err))
	}
	if got := RuleID(err); got != "FG-INT-001" {
		t.Fatalf("RuleID: got %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestPlainErrorsHaveNoKind(t *testing.T) {
	err := errors.New("plain")
	if IsKind(err, KindValidation) {
		t.Fatalf("plain error must not match a kind")
	}
	if RuleID(err) != "" || KindOf(err) != "" {
		t.Fatalf("plain error must not report a rule id or kind")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(KindCapacity, "FG-CAP-001", "too big", nil)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error")
	}
	if e.Cause != nil {
		t.Fatalf("expected nil cause")
	}
	if err.Error() != "too big" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
