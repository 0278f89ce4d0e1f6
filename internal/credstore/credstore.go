package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"parley/internal/logging"
)

// ErrPersistence marks a failed save. Losing a freshly refreshed token forces
// an unnecessary full login on the next run, so saves fail loudly.
var ErrPersistence = errors.New("credential store persistence failed")

// Credential is the persisted authentication material for one platform
// identity. The session token's expiry is carried inside the token itself
// and is never stored redundantly.
type Credential struct {
	Platform      string    `json:"platform"`
	Identifier    string    `json:"identifier"`
	AppKey        string    `json:"appKey,omitempty"`
	AppSecret     string    `json:"appSecret,omitempty"`
	AppPassword   string    `json:"appPassword,omitempty"`
	DID           string    `json:"did,omitempty"`
	AccessToken   string    `json:"accessToken,omitempty"`
	RefreshToken  string    `json:"refreshToken,omitempty"`
	LastRefreshed time.Time `json:"lastRefreshed,omitempty"`
}

// Store owns the credential file: exactly one active Credential per platform
// name. Components receive a *Store explicitly; there is no ambient singleton.
type Store struct {
	path  string
	creds map[string]*Credential
}

// Load reads the store at path. A missing or unparseable file yields an empty
// store so a first run can bootstrap; the condition is logged, never fatal.
func Load(path string) *Store {
	s := &Store{path: path, creds: map[string]*Credential{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("credstore_load", map[string]any{"path": path, "error": err.Error()})
		}
		return s
	}
	if err := json.Unmarshal(b, &s.creds); err != nil {
		logging.Warn("credstore_unparseable", map[string]any{"path": path, "error": err.Error()})
		s.creds = map[string]*Credential{}
	}
	return s
}

// Get returns the credential for a platform, or nil if none is stored.
func (s *Store) Get(platform string) *Credential {
	return s.creds[platform]
}

// Put replaces the credential for cred.Platform in memory. Callers must Save
// before acting on the new tokens.
func (s *Store) Put(cred *Credential) {
	s.creds[cred.Platform] = cred
}

// Save writes the whole store to disk via write-temp-then-rename so a crash
// mid-write cannot corrupt the existing file.
func (s *Store) Save() error {
	b, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close: %v", ErrPersistence, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: chmod: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}
