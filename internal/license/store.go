package license

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"emvcli/internal/canonjson"
	"emvcli/internal/config"
)

// Store persists the last-known-good license document at a fixed
// path. It performs no validation: callers re-verify through the
// Verifier on every load, because a previously-verified file on disk
// proves nothing about the file that is there now.
type Store struct {
	path string
}

// NewStore creates a store writing to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the on-disk location of the license file.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a license file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Save writes the document as canonical JSON, creating parent
// directories as needed. The write goes through a temp file and
// rename so a crash never leaves a half-written license.
func (s *Store) Save(doc *Document) (string, error) {
	if err := config.EnsureDir(filepath.Dir(s.path)); err != nil {
		return "", err
	}

	data, err := canonjson.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize license: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".license-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp license file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write license file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close license file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to install license file: %w", err)
	}
	return s.path, nil
}

// Load reads and parses the persisted document. A missing file
// returns ErrNotInstalled; a corrupt file returns
// ErrMalformedDocument. It never returns a partially-parsed document.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotInstalled, s.path)
		}
		return nil, fmt.Errorf("failed to read license file: %w", err)
	}
	return ParseDocument(data)
}
