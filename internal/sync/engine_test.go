package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emvcli/internal/baseline"
	"emvcli/internal/outbox"
	transporthttp "emvcli/internal/transport/http"
)

// fakeClient scripts per-baseline outcomes and records upload order.
type fakeClient struct {
	mu       sync.Mutex
	fail     map[string]error
	uploads  []string
	attempts map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{fail: map[string]error{}, attempts: map[string]int{}}
}

func (f *fakeClient) SealBaseline(_ context.Context, draft *baseline.Draft, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, draft.BaselineID)
	f.attempts[draft.BaselineID]++
	return f.fail[draft.BaselineID]
}

func testDraft(id string) *baseline.Draft {
	return &baseline.Draft{
		BaselineID: id,
		OrgID:      "ORG-1",
		ProjectID:  "PRJ-1",
		CreatedBy:  "eng@example.com",
		MeterIDs:   []string{"M-1"},
		StartDate:  "2026-01-01",
		EndDate:    "2026-06-30",
		CalcParams: json.RawMessage(`{"rate":0.12}`),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Status:     baseline.StatusQueued,
		LicenseID:  "LIC-1",
	}
}

func newTestOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	ob, err := outbox.New(filepath.Join(t.TempDir(), "outbox"))
	require.NoError(t, err)
	return ob
}

func addBundle(t *testing.T, ob *outbox.Outbox, id string) string {
	t.Helper()
	raw := filepath.Join(t.TempDir(), "m.csv")
	require.NoError(t, os.WriteFile(raw, []byte("measurement data"), 0o644))
	dir, err := ob.SaveBundle(testDraft(id), []string{raw})
	require.NoError(t, err)
	return dir
}

func bundleStatus(t *testing.T, ob *outbox.Outbox, dir string) *baseline.Draft {
	t.Helper()
	draft, err := ob.LoadDraft(dir)
	require.NoError(t, err)
	return draft
}

func TestSyncOutboxHappyPath(t *testing.T) {
	ob := newTestOutbox(t)
	dirA := addBundle(t, ob, "BL-a")
	dirB := addBundle(t, ob, "BL-b")

	client := newFakeClient()
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, []string{"BL-a", "BL-b"}, client.uploads,
		"sequential sync follows deterministic outbox order")

	assert.Equal(t, baseline.StatusSynced, bundleStatus(t, ob, dirA).Status)
	assert.Equal(t, baseline.StatusSynced, bundleStatus(t, ob, dirB).Status)
}

func TestSyncOutboxIdempotentRerun(t *testing.T) {
	ob := newTestOutbox(t)
	addBundle(t, ob, "BL-a")
	addBundle(t, ob, "BL-b")

	client := newFakeClient()
	engine := NewEngine(ob, client)

	_, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)

	second, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Synced)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 1, client.attempts["BL-a"], "synced bundles are never re-sent")
}

func TestSyncOutboxPermanentFailure(t *testing.T) {
	ob := newTestOutbox(t)
	dir := addBundle(t, ob, "BL-bad")

	client := newFakeClient()
	client.fail["BL-bad"] = &transporthttp.PermanentError{StatusCode: 400, Body: "unknown org_id"}
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	draft := bundleStatus(t, ob, dir)
	assert.Equal(t, baseline.StatusFailed, draft.Status)
	assert.Contains(t, draft.LastError, "client_error:400:")
	assert.Contains(t, draft.LastError, "unknown org_id")
}

func TestSyncOutboxTransientFailureThenRetry(t *testing.T) {
	ob := newTestOutbox(t)
	dir := addBundle(t, ob, "BL-flaky")

	client := newFakeClient()
	client.fail["BL-flaky"] = errors.New("server error 503: maintenance")
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	draft := bundleStatus(t, ob, dir)
	assert.Equal(t, baseline.StatusFailed, draft.Status)
	assert.Contains(t, draft.LastError, "maintenance")

	// A failed bundle is retried on the next run, not skipped.
	client.mu.Lock()
	delete(client.fail, "BL-flaky")
	client.mu.Unlock()

	retry, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Synced)

	recovered := bundleStatus(t, ob, dir)
	assert.Equal(t, baseline.StatusSynced, recovered.Status)
	assert.Empty(t, recovered.LastError)
}

func TestSyncOutboxFailureDoesNotAbortRun(t *testing.T) {
	ob := newTestOutbox(t)
	addBundle(t, ob, "BL-1-bad")
	dirOK := addBundle(t, ob, "BL-2-ok")

	client := newFakeClient()
	client.fail["BL-1-bad"] = &transporthttp.PermanentError{StatusCode: 422, Body: "rejected"}
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, baseline.StatusSynced, bundleStatus(t, ob, dirOK).Status)
}

func TestSyncOutboxEmptyBundle(t *testing.T) {
	ob := newTestOutbox(t)
	dir := addBundle(t, ob, "BL-empty")
	// Simulate a bundle whose raw files were lost.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "raw")))

	client := newFakeClient()
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, client.uploads, "incomplete bundles are never uploaded")

	draft := bundleStatus(t, ob, dir)
	assert.Equal(t, baseline.StatusFailed, draft.Status)
	assert.Equal(t, "no_raw_files_in_bundle", draft.LastError)
}

func TestSyncOutboxResumesStaleSyncing(t *testing.T) {
	ob := newTestOutbox(t)
	dir := addBundle(t, ob, "BL-crashed")

	// A process killed mid-upload leaves status=syncing behind.
	draft := bundleStatus(t, ob, dir)
	draft.Status = baseline.StatusSyncing
	require.NoError(t, ob.SaveDraft(dir, draft))

	client := newFakeClient()
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []string{"BL-crashed"}, client.uploads)
}

func TestSyncOutboxSkipsLockedBundle(t *testing.T) {
	ob := newTestOutbox(t)
	dir := addBundle(t, ob, "BL-held")

	lock, err := outbox.AcquireBundleLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	client := newFakeClient()
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, client.uploads)

	// The held bundle's state is untouched.
	assert.Equal(t, baseline.StatusQueued, bundleStatus(t, ob, dir).Status)
}

func TestSyncOutboxCorruptBundleIsolated(t *testing.T) {
	ob := newTestOutbox(t)
	addBundle(t, ob, "BL-fine")

	corrupt := filepath.Join(ob.Dir(), "BL-broken")
	require.NoError(t, os.MkdirAll(corrupt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "draft.json"), []byte("{oops"), 0o644))

	client := newFakeClient()
	engine := NewEngine(ob, client)

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
}

func TestSyncOutboxBoundedConcurrency(t *testing.T) {
	ob := newTestOutbox(t)
	dirs := make([]string, 0, 6)
	for _, id := range []string{"BL-p1", "BL-p2", "BL-p3", "BL-p4", "BL-p5", "BL-p6"} {
		dirs = append(dirs, addBundle(t, ob, id))
	}

	client := newFakeClient()
	engine := NewEngine(ob, client, WithConcurrency(3))

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Synced)
	for _, dir := range dirs {
		assert.Equal(t, baseline.StatusSynced, bundleStatus(t, ob, dir).Status)
	}
}

func TestSyncOutboxAgainstStubService(t *testing.T) {
	stub := transporthttp.NewStubService("integration-key", nil, nil)
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	ob := newTestOutbox(t)
	addBundle(t, ob, "BL-wire-1")
	addBundle(t, ob, "BL-wire-2")

	client := transporthttp.NewClient(srv.URL, "integration-key",
		transporthttp.WithMaxAttempts(2), transporthttp.WithTimeout(10*time.Second))
	engine := NewEngine(ob, client, WithUploadRate(50))

	result, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 2, stub.SealedCount())

	// Full idempotency through the wire: re-running skips everything.
	again, err := engine.SyncOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, 2, stub.SealedCount())
}
