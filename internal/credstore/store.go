// Package credstore persists the session token. Primary backend is the OS
// secret store; a permission-restricted file under the user's home directory
// is the fallback for headless machines without a keyring daemon.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "acencia_atlas"
	keyName     = "jwt_token"

	// fallbackFile lives directly under the home directory so support can
	// find it; 0600 keeps it owner-only.
	fallbackFile = ".bipro_gdv_token.json"
)

// ErrNotFound is returned when no credentials are stored in any backend.
var ErrNotFound = errors.New("no stored credentials")

// Credentials is the persisted payload.
type Credentials struct {
	Token string         `json:"token"`
	User  map[string]any `json:"user,omitempty"`
}

// Store persists credentials in the OS keyring with a file fallback.
type Store struct {
	// homeDir overrides the user home directory, for tests.
	homeDir string
	// keyringSet/Get/Delete are swappable for tests.
	keyringSet    func(service, user, password string) error
	keyringGet    func(service, user string) (string, error)
	keyringDelete func(service, user string) error
}

// New creates a store backed by the real OS keyring.
func New() *Store {
	return &Store{
		keyringSet:    keyring.Set,
		keyringGet:    keyring.Get,
		keyringDelete: keyring.Delete,
	}
}

func (s *Store) fallbackPath() (string, error) {
	home := s.homeDir
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
	}
	return filepath.Join(home, fallbackFile), nil
}

// Save writes credentials to the keyring; if the keyring is unavailable it
// writes the fallback file instead. A successful keyring write removes any
// stale fallback file so the two backends cannot diverge.
func (s *Store) Save(creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := s.keyringSet(serviceName, keyName, string(data)); err == nil {
		if path, perr := s.fallbackPath(); perr == nil {
			_ = os.Remove(path)
		}
		return nil
	}

	path, err := s.fallbackPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Load reads credentials from the keyring, then from the fallback file.
func (s *Store) Load() (Credentials, error) {
	if raw, err := s.keyringGet(serviceName, keyName); err == nil {
		var creds Credentials
		if err := json.Unmarshal([]byte(raw), &creds); err == nil && creds.Token != "" {
			return creds, nil
		}
	}

	path, err := s.fallbackPath()
	if err != nil {
		return Credentials{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("read token file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode token file: %w", err)
	}
	if creds.Token == "" {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

// Delete removes credentials from both backends. Individual backend
// failures are ignored; the goal is best-effort wipe.
func (s *Store) Delete() {
	_ = s.keyringDelete(serviceName, keyName)
	if path, err := s.fallbackPath(); err == nil {
		_ = os.Remove(path)
	}
}
