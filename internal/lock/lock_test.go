package lock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireThenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shuttle.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lock file removed after Release")
	}
}

func TestAcquire_AlreadyHeldFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shuttle.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire (first): %v", err)
	}
	defer first.Release()

	if _, err := Acquire(path); err != ErrHeld {
		t.Fatalf("second Acquire err = %v, want ErrHeld", err)
	}
}

func TestRelease_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shuttle.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release (first): %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release (second) should be a no-op: %v", err)
	}
}
