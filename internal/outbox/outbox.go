// Package outbox is the filesystem-backed queue of sealed baseline
// bundles awaiting transmission. Each bundle is a self-contained
// directory named by baseline id: the draft metadata plus
// byte-identical copies of every raw file, so the evidence survives
// the originals being moved or deleted. Bundles are never deleted by
// this subsystem; retention is an operational concern.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"emvcli/internal/baseline"
	"emvcli/internal/config"
)

const (
	draftFileName = "draft.json"
	rawDirName    = "raw"
)

// ErrCorruptBundle marks a bundle whose metadata cannot be read.
var ErrCorruptBundle = errors.New("corrupt outbox bundle")

// Outbox manages bundle directories under a single root.
type Outbox struct {
	dir string
}

// New creates an Outbox rooted at dir. The directory is created if
// missing.
func New(dir string) (*Outbox, error) {
	if err := config.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Outbox{dir: dir}, nil
}

// Dir returns the outbox root directory.
func (o *Outbox) Dir() string {
	return o.dir
}

// SaveBundle materializes a draft and its raw files as a bundle
// directory. The bundle is assembled in a hidden staging directory
// and renamed into place, so a failure partway through leaves no
// half-built bundle visible to enumeration or sync.
func (o *Outbox) SaveBundle(draft *baseline.Draft, rawPaths []string) (string, error) {
	finalDir := filepath.Join(o.dir, draft.BaselineID)
	if _, err := os.Stat(finalDir); err == nil {
		return "", fmt.Errorf("bundle %s already exists", draft.BaselineID)
	}

	staging, err := os.MkdirTemp(o.dir, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	rawDir := filepath.Join(staging, rawDirName)
	if err := os.Mkdir(rawDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create raw directory: %w", err)
	}
	for _, src := range rawPaths {
		dst := filepath.Join(rawDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
	}

	if err := writeDraftFile(filepath.Join(staging, draftFileName), draft); err != nil {
		return "", err
	}

	if err := os.Rename(staging, finalDir); err != nil {
		return "", fmt.Errorf("failed to finalize bundle %s: %w", draft.BaselineID, err)
	}
	return finalDir, nil
}

// Bundles returns the bundle directories in deterministic order
// (baseline id ascending), so repeated sync runs process the queue
// identically.
func (o *Outbox) Bundles() ([]string, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox directory: %w", err)
	}

	var bundles []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		bundles = append(bundles, filepath.Join(o.dir, entry.Name()))
	}
	sort.Strings(bundles)
	return bundles, nil
}

// LoadDraft reads a bundle's metadata.
func (o *Outbox) LoadDraft(bundleDir string) (*baseline.Draft, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, draftFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, err)
	}
	var draft baseline.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, err)
	}
	if draft.BaselineID == "" {
		return nil, fmt.Errorf("%w: missing baseline_id", ErrCorruptBundle)
	}
	return &draft, nil
}

// SaveDraft atomically overwrites a bundle's metadata. The write goes
// through a temp file and rename so a crash mid-write can never leave
// a half-written draft behind.
func (o *Outbox) SaveDraft(bundleDir string, draft *baseline.Draft) error {
	return writeDraftFile(filepath.Join(bundleDir, draftFileName), draft)
}

// RawFiles lists a bundle's raw file paths sorted by name.
func (o *Outbox) RawFiles(bundleDir string) ([]string, error) {
	rawDir := filepath.Join(bundleDir, rawDirName)
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read raw directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(rawDir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// BundleSummary is one row of operator-facing outbox state.
type BundleSummary struct {
	BaselineID string          `json:"baseline_id"`
	ProjectID  string          `json:"project_id"`
	Status     baseline.Status `json:"status"`
	LastError  string          `json:"last_error"`
}

// Summary reports every bundle's state. A corrupt bundle is reported
// as status=corrupt instead of failing the call, so one bad directory
// never blocks visibility into the rest of the queue.
func (o *Outbox) Summary() ([]BundleSummary, error) {
	bundles, err := o.Bundles()
	if err != nil {
		return nil, err
	}

	summaries := make([]BundleSummary, 0, len(bundles))
	for _, bundleDir := range bundles {
		draft, err := o.LoadDraft(bundleDir)
		if err != nil {
			summaries = append(summaries, BundleSummary{
				BaselineID: filepath.Base(bundleDir),
				Status:     baseline.StatusCorrupt,
				LastError:  err.Error(),
			})
			continue
		}
		summaries = append(summaries, BundleSummary{
			BaselineID: draft.BaselineID,
			ProjectID:  draft.ProjectID,
			Status:     draft.Status,
			LastError:  draft.LastError,
		})
	}
	return summaries, nil
}

func writeDraftFile(path string, draft *baseline.Draft) error {
	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize draft: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".draft-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp draft file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write draft file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close draft file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace draft file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open raw file %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create bundle copy %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy raw file %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finish bundle copy %s: %w", dst, err)
	}
	return nil
}
