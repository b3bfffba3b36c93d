// Package sync walks the outbox and uploads pending bundles to the
// central service. Delivery is at-least-once: a crash or network
// failure leaves the bundle in a retryable state, and the server's
// idempotent seal endpoint absorbs duplicate uploads. Nothing here
// ever deletes a bundle.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"emvcli/internal/baseline"
	"emvcli/internal/outbox"
	transporthttp "emvcli/internal/transport/http"
)

// reasonNoRawFiles is persisted when a bundle carries no raw files.
// An incomplete bundle is never uploaded.
const reasonNoRawFiles = "no_raw_files_in_bundle"

// SealClient uploads one bundle to the service. Retry and backoff for
// transient failures live behind this interface; a returned
// *transporthttp.PermanentError means the server rejected the request
// outright and it must not be re-attempted.
type SealClient interface {
	SealBaseline(ctx context.Context, draft *baseline.Draft, rawFiles []string) error
}

// Detail is the per-bundle outcome of one sync run.
type Detail struct {
	BaselineID string          `json:"baseline_id"`
	Status     baseline.Status `json:"status"`
	Skipped    bool            `json:"skipped,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Result aggregates one sync run.
type Result struct {
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Details []Detail `json:"details"`
}

// Engine drives outbox synchronization.
type Engine struct {
	outbox      *outbox.Outbox
	client      SealClient
	logger      *slog.Logger
	concurrency int
	limiter     *rate.Limiter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConcurrency bounds parallel bundle uploads. The default of 1
// keeps uploads strictly sequential; higher values stay safe because
// each bundle is processed under its exclusive lock.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithUploadRate limits seal requests per second across all workers.
func WithUploadRate(perSecond float64) EngineOption {
	return func(e *Engine) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine over an outbox and a seal client.
func NewEngine(ob *outbox.Outbox, client SealClient, opts ...EngineOption) *Engine {
	e := &Engine{
		outbox:      ob,
		client:      client,
		logger:      slog.Default(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncOutbox processes every bundle in deterministic outbox order.
// One bundle's failure never aborts the rest; the only run-level
// error is failing to enumerate the outbox itself or a cancelled
// context.
func (e *Engine) SyncOutbox(ctx context.Context) (*Result, error) {
	bundles, err := e.outbox.Bundles()
	if err != nil {
		return nil, err
	}

	details := make([]Detail, len(bundles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, bundleDir := range bundles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			details[i] = e.syncBundle(gctx, bundleDir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Details: details}
	for _, d := range details {
		switch {
		case d.Skipped:
			result.Skipped++
		case d.Status == baseline.StatusSynced:
			result.Synced++
		default:
			result.Failed++
		}
	}

	e.logger.Info("outbox sync finished",
		slog.Int("synced", result.Synced),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

// syncBundle processes one bundle under its exclusive lock.
func (e *Engine) syncBundle(ctx context.Context, bundleDir string) Detail {
	baselineID := filepath.Base(bundleDir)

	lock, err := outbox.AcquireBundleLock(bundleDir)
	if err != nil {
		// Held by a concurrent invocation: that process owns the
		// bundle's fate, this run merely reports it untouched.
		return Detail{BaselineID: baselineID, Skipped: true, Error: err.Error()}
	}
	defer lock.Release()

	draft, err := e.outbox.LoadDraft(bundleDir)
	if err != nil {
		e.logger.Warn("skipping corrupt bundle",
			slog.String("bundle", bundleDir),
			slog.String("error", err.Error()))
		return Detail{BaselineID: baselineID, Status: baseline.StatusCorrupt, Skipped: true, Error: err.Error()}
	}

	// Idempotency short-circuit: repeated sync runs are safe because
	// terminal bundles are never re-sent.
	if draft.Status == baseline.StatusSynced {
		return Detail{BaselineID: draft.BaselineID, Status: baseline.StatusSynced, Skipped: true}
	}

	rawFiles, err := e.outbox.RawFiles(bundleDir)
	if err != nil {
		return e.persistFailure(bundleDir, draft, err.Error())
	}
	if len(rawFiles) == 0 {
		return e.persistFailure(bundleDir, draft, reasonNoRawFiles)
	}

	// Persist the in-flight state before uploading so a crash leaves
	// visible evidence of the attempt instead of a pristine "queued".
	// A stale "syncing" from a killed process is resumed here, which
	// is safe because the seal endpoint is idempotent.
	draft.Status = baseline.StatusSyncing
	draft.LastError = ""
	if err := e.outbox.SaveDraft(bundleDir, draft); err != nil {
		return Detail{BaselineID: draft.BaselineID, Status: draft.Status, Error: err.Error()}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return e.persistFailure(bundleDir, draft, err.Error())
		}
	}

	e.logger.Info("uploading bundle",
		slog.String("baseline_id", draft.BaselineID),
		slog.Int("files", len(rawFiles)))

	if err := e.client.SealBaseline(ctx, draft, rawFiles); err != nil {
		var perm *transporthttp.PermanentError
		if errors.As(err, &perm) {
			e.logger.Warn("bundle rejected by server",
				slog.String("baseline_id", draft.BaselineID),
				slog.Int("status", perm.StatusCode))
		}
		return e.persistFailure(bundleDir, draft, err.Error())
	}

	draft.Status = baseline.StatusSynced
	draft.LastError = ""
	if err := e.outbox.SaveDraft(bundleDir, draft); err != nil {
		return Detail{BaselineID: draft.BaselineID, Status: draft.Status, Error: err.Error()}
	}

	e.logger.Info("bundle synced", slog.String("baseline_id", draft.BaselineID))
	return Detail{BaselineID: draft.BaselineID, Status: baseline.StatusSynced}
}

func (e *Engine) persistFailure(bundleDir string, draft *baseline.Draft, reason string) Detail {
	draft.Status = baseline.StatusFailed
	draft.LastError = reason
	if err := e.outbox.SaveDraft(bundleDir, draft); err != nil {
		e.logger.Error("failed to persist bundle failure",
			slog.String("bundle", bundleDir),
			slog.String("error", err.Error()))
	}
	return Detail{BaselineID: draft.BaselineID, Status: baseline.StatusFailed, Error: reason}
}
