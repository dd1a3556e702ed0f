// Package credstore persists the pairing secret a TV issues to this bridge,
// one small JSON file per device.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type record struct {
	ClientKey string `json:"client-key"`
}

// Store reads and writes <dir>/<device>.json.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// FileName is the base name of the file holding the secret for device.
// Distinct device names can share a file name, so callers managing several
// devices must reject such collisions.
func FileName(device string) string {
	return unsafeNameChars.ReplaceAllString(device, "_") + ".json"
}

// Path returns the file holding the secret for device.
func (s *Store) Path(device string) string {
	return filepath.Join(s.dir, FileName(device))
}

// Load returns the cached secret, or "" when the device has never paired.
func (s *Store) Load(device string) (string, error) {
	data, err := os.ReadFile(s.Path(device))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read client key: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode client key %s: %w", s.Path(device), err)
	}
	return rec.ClientKey, nil
}

// Save replaces the stored secret. The write goes through a temp file so a
// crash never leaves a truncated record behind.
func (s *Store) Save(device, secret string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create keys dir: %w", err)
	}
	data, err := json.Marshal(record{ClientKey: secret})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".client-key-*")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp key file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(device)); err != nil {
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}
