package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := NewError(KindStoreLocked, "retries exhausted after %d attempts", 5)

	if !errors.Is(err, &Error{Kind: KindStoreLocked}) {
		t.Error("expected errors.Is to match on kind")
	}
	if errors.Is(err, &Error{Kind: KindStoreUnavailable}) {
		t.Error("expected errors.Is not to match a different kind")
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := NewError(KindPermissionDenied, "automation access refused")
	wrapped := fmt.Errorf("send message: %w", inner)

	if got := KindOf(wrapped); got != KindPermissionDenied {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindPermissionDenied)
	}
	if !IsKind(wrapped, KindPermissionDenied) {
		t.Error("expected IsKind to see through the wrap")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain error) = %q, want empty", got)
	}
}

func TestWithDetail(t *testing.T) {
	err := NewError(KindScriptFailed, "osascript exited 1").WithDetail("execution error: blah (-1728)")
	if err.Detail == "" {
		t.Fatal("expected detail to be set")
	}
	if err.Error() != "script_failed: osascript exited 1" {
		t.Errorf("unexpected Error() text: %q", err.Error())
	}
}
