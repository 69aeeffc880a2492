package session

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession on empty store, got %v", err)
	}

	if err := store.Save("token-one"); err != nil {
		t.Fatalf("save: %v", err)
	}
	token, savedAt, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if token != "token-one" {
		t.Errorf("expected token-one, got %q", token)
	}
	if savedAt.IsZero() {
		t.Error("expected non-zero saved_at")
	}

	// Save replaces, never appends.
	if err := store.Save("token-two"); err != nil {
		t.Fatalf("save: %v", err)
	}
	token, _, err = store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if token != "token-two" {
		t.Errorf("expected replacement token, got %q", token)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after clear, got %v", err)
	}
}
