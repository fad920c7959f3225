package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindDefaults(t *testing.T) {
	tests := []struct {
		err       *Error
		kind      Kind
		retryable bool
		name      string
	}{
		{NewValidation("bad"), KindValidation, false, "ValidationError"},
		{NewDataNotFound("none"), KindDataNotFound, false, "DataNotFoundError"},
		{NewTransient("503"), KindTransient, true, "TransientServiceError"},
		{NewCorruption("empty"), KindCorruption, false, "CorruptionError"},
		{NewCircuitOpen("open"), KindCircuitOpen, false, "CircuitBreakerTripped"},
	}

	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("%s: kind = %v, want %v", tt.name, tt.err.Kind, tt.kind)
		}
		if tt.err.Retryable != tt.retryable {
			t.Errorf("%s: retryable = %v, want %v", tt.name, tt.err.Retryable, tt.retryable)
		}
		if tt.kind.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.kind.String(), tt.name)
		}
		if ParseKind(tt.name) != tt.kind {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.name, ParseKind(tt.name), tt.kind)
		}
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := NewDataNotFound("no sources for %q", "topic")
	wrapped := fmt.Errorf("research: %w", base)

	if got := KindOf(wrapped); got != KindDataNotFound {
		t.Fatalf("KindOf = %v, want DataNotFound", got)
	}
	if IsRetryable(wrapped) {
		t.Error("data-not-found should not be retryable")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain error should be KindUnknown")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransient, cause, "generate text")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !err.Retryable {
		t.Error("transient wrap should be retryable")
	}
	if err.Error() != "generate text: connection reset" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !strings.Contains(err.StackTrace(), "generate text") {
		t.Errorf("stack trace missing message: %q", err.StackTrace())
	}
}

func TestWithMessage(t *testing.T) {
	orig := NewTransient("429 quota exceeded")
	cp := orig.WithMessage(orig.Message+" | wait", false)

	if cp.Kind != KindTransient || cp.Retryable {
		t.Errorf("copy = %+v", cp)
	}
	if !orig.Retryable {
		t.Error("original should be unchanged")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(NewCorruption("x")) || !IsFatal(NewCircuitOpen("x")) {
		t.Error("corruption and circuit-open are fatal")
	}
	if IsFatal(NewTransient("x")) || IsFatal(NewValidation("x")) {
		t.Error("transient and validation are not fatal")
	}
}
