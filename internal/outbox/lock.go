package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lockFileName = "sync.lock"

// ErrBundleLocked is returned when another sync invocation holds a
// bundle's lock.
var ErrBundleLocked = errors.New("bundle locked by another sync invocation")

// staleLockAge is how old a lock file may be before it is presumed to
// belong to a dead process and broken. Uploads run with a 60s default
// timeout and bounded retries, so a lock older than this cannot be a
// live attempt.
const staleLockAge = 30 * time.Minute

// BundleLock is an exclusive advisory lock on one bundle directory.
// The status-flag short-circuit alone is racy when two sync processes
// run at once: both could read status=queued before either persists
// syncing. The lock file closes that window.
type BundleLock struct {
	path string
}

type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireBundleLock takes the exclusive lock for a bundle directory.
// A lock file left behind by a crashed process is broken once it
// exceeds staleLockAge.
func AcquireBundleLock(bundleDir string) (*BundleLock, error) {
	path := filepath.Join(bundleDir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info := lockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
			data, _ := json.Marshal(info)
			file.Write(data)
			file.Close()
			return &BundleLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		stat, statErr := os.Stat(path)
		if statErr != nil {
			// Holder released between our open and stat; retry.
			continue
		}
		if time.Since(stat.ModTime()) < staleLockAge {
			return nil, fmt.Errorf("%w: %s", ErrBundleLocked, path)
		}
		// Stale lock from a dead process; break it and retry once.
		os.Remove(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrBundleLocked, path)
}

// Release drops the lock.
func (l *BundleLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
