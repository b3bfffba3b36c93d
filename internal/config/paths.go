package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains all filesystem locations the client touches.
// This is the single source of truth for on-disk layout; commands may
// override individual entries via flags but never invent paths of
// their own.
type Paths struct {
	Root        string
	LicenseDir  string
	LicenseFile string
	OutboxDir   string
	LogsDir     string
}

// stateDirName is the per-user state directory under $HOME.
const stateDirName = ".synerex_emv"

// GetPaths returns the client paths rooted at the user's home
// directory. Nothing is created on disk; callers that write use
// EnsureDir first.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return pathsAt(filepath.Join(home, stateDirName)), nil
}

// GetPathsAt returns the client paths rooted at an explicit state
// directory. Used by commands with --store-dir/--outbox-dir overrides
// and by tests.
func GetPathsAt(root string) *Paths {
	return pathsAt(root)
}

func pathsAt(root string) *Paths {
	licenseDir := filepath.Join(root, "license")
	return &Paths{
		Root:        root,
		LicenseDir:  licenseDir,
		LicenseFile: filepath.Join(licenseDir, "license.json"),
		OutboxDir:   filepath.Join(root, "outbox"),
		LogsDir:     filepath.Join(root, "logs"),
	}
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
