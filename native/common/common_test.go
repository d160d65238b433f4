package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleLease); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	paused := PauseSet{ModuleLease: true}
	if err := Guard(paused, ModuleLease); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(paused, ModuleTimeAlarms); err != nil {
		t.Fatalf("unexpected error for running module: %v", err)
	}
}

func TestInvariant(t *testing.T) {
	if err := Invariant(true, "never"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Invariant(false, "previous %d exceeds total %d", 5, 3)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if err.Error() != "invariant violated: previous 5 exceeds total 3" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
