package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "nope.json"))
	if s.Get("bsky") != nil {
		t.Fatalf("expected empty store")
	}
}

func TestLoadUnparseableFileYieldsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := Load(path)
	if s.Get("bsky") != nil {
		t.Fatalf("expected empty store after unparseable file")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := Load(path)
	s.Put(&Credential{
		Platform:      "bsky",
		Identifier:    "doc.example.com",
		DID:           "did:plc:abc",
		AccessToken:   "access",
		RefreshToken:  "refresh",
		LastRefreshed: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	got := Load(path).Get("bsky")
	if got == nil {
		t.Fatalf("credential missing after reload")
	}
	if got.DID != "did:plc:abc" || got.RefreshToken != "refresh" {
		t.Fatalf("round trip mangled credential: %+v", got)
	}
}

func TestSaveFailsLoudly(t *testing.T) {
	dir := t.TempDir()
	// Point the store at a path whose parent is a file, so rename must fail.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := Load(filepath.Join(blocker, "credentials.json"))
	s.Put(&Credential{Platform: "bsky"})
	err := s.Save()
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestSaveDoesNotTruncateOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := Load(path)
	s.Put(&Credential{Platform: "bsky", AccessToken: "v1"})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// A second successful save replaces, never truncates mid-write: the file
	// is always either old or new complete content.
	s.Put(&Credential{Platform: "bsky", AccessToken: "v2"})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) == string(after) {
		t.Fatalf("save did not update file")
	}
	if Load(path).Get("bsky").AccessToken != "v2" {
		t.Fatalf("new token not durable")
	}
}
