package localstore

import (
	"path/filepath"
	"testing"
)

func TestStore_PutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get(KeyEndpoint); err != nil || ok {
		t.Fatalf("Get on empty store = ok=%v err=%v, want absent", ok, err)
	}

	if err := s.Put(KeyEndpoint, "https://x.example.co"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(KeyEndpoint, "https://y.example.co"); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}

	v, ok, err := s.Get(KeyEndpoint)
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v, want present", ok, err)
	}
	if v != "https://y.example.co" {
		t.Errorf("Get = %q, want overwritten value", v)
	}

	if err := s.Delete(KeyEndpoint); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(KeyEndpoint); ok {
		t.Error("Get after Delete = present, want absent")
	}
	// Deleting again is a no-op.
	if err := s.Delete(KeyEndpoint); err != nil {
		t.Errorf("Delete (absent) = %v, want nil", err)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(KeyAPIKey, "a.b.c"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Get(KeyAPIKey)
	if err != nil || !ok || v != "a.b.c" {
		t.Fatalf("Get after reopen = %q ok=%v err=%v, want persisted value", v, ok, err)
	}
}
