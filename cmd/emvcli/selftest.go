package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"emvcli/internal/baseline"
	"emvcli/internal/license"
	"emvcli/internal/outbox"
	"emvcli/internal/security"
	"emvcli/internal/sync"
	transporthttp "emvcli/internal/transport/http"
)

type selftestReport struct {
	Fingerprint   bool   `json:"fingerprint"`
	OfflineVerify bool   `json:"offline_verify"`
	DeviceBinding bool   `json:"device_binding"`
	Sealing       bool   `json:"sealing"`
	Sync          bool   `json:"sync"`
	Idempotency   bool   `json:"idempotency"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
}

// newSelftestCommand exercises the whole pipeline end to end against
// an in-process stub service: fingerprint, sign-and-verify a
// throwaway license, seal a throwaway bundle in a temp outbox, sync
// it, and sync again to prove idempotency. Nothing touches the real
// state directories.
func newSelftestCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run an end-to-end diagnostic against an in-process service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runSelftest(cmd.Context(), app)
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.OK {
				return &exitCodeError{code: 1, err: fmt.Errorf("selftest failed: %s", report.Error)}
			}
			return nil
		},
	}
}

func runSelftest(ctx context.Context, app *appContext) selftestReport {
	var report selftestReport
	failf := func(format string, args ...any) selftestReport {
		report.Error = fmt.Sprintf(format, args...)
		return report
	}

	// Device identity.
	fingerprint, err := security.NewFingerprinter().Compute()
	if err != nil {
		return failf("fingerprint: %v", err)
	}
	report.Fingerprint = true

	// Offline verification round-trip with a throwaway key pair.
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return failf("keygen: %v", err)
	}
	doc := &license.Document{
		LicenseID:          "LIC-selftest",
		Program:            license.Program{ProgramID: app.cfg.License.RequiredProgram},
		Subject:            license.Subject{OrgID: "ORG-selftest"},
		Expiry:             time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		DeviceFingerprints: []string{fingerprint},
	}
	if err := doc.Sign(priv); err != nil {
		return failf("sign: %v", err)
	}
	verifier := license.NewVerifier(pub,
		license.WithRequiredProgram(app.cfg.License.RequiredProgram),
		license.WithLogger(app.logger),
	)
	if result := verifier.Verify(doc); !result.OK {
		return failf("offline verify: %s", result.Reason)
	}
	report.OfflineVerify = true

	if result := license.RequireDeviceFingerprint(doc, fingerprint); !result.OK {
		return failf("device binding: %s", result.Reason)
	}
	report.DeviceBinding = true

	// Seal a throwaway bundle in a temp outbox.
	workDir, err := os.MkdirTemp("", "emv-selftest-*")
	if err != nil {
		return failf("tempdir: %v", err)
	}
	defer os.RemoveAll(workDir)

	rawPath := filepath.Join(workDir, "selftest.csv")
	if err := os.WriteFile(rawPath, []byte("ts,kwh\n2026-01-01T00:00:00Z,1.5\n"), 0o644); err != nil {
		return failf("raw file: %v", err)
	}

	sealer := baseline.NewSealer(baseline.WithLogger(app.logger))
	draft, rawPaths, err := sealer.CreateDraft(baseline.DraftSpec{
		OrgID:      "ORG-selftest",
		ProjectID:  "PRJ-selftest",
		CreatedBy:  "selftest",
		MeterIDs:   []string{"M-selftest"},
		StartDate:  "2026-01-01",
		EndDate:    "2026-01-02",
		RawFiles:   []string{rawPath},
		CalcParams: json.RawMessage(`{"rate":0.12}`),
		LicenseID:  doc.LicenseID,
	})
	if err != nil {
		return failf("seal: %v", err)
	}

	ob, err := outbox.New(filepath.Join(workDir, "outbox"))
	if err != nil {
		return failf("outbox: %v", err)
	}
	if _, err := ob.SaveBundle(draft, rawPaths); err != nil {
		return failf("bundle: %v", err)
	}
	report.Sealing = true

	// Sync against the in-process stub service.
	stub := transporthttp.NewStubService("selftest-key", verifier, app.logger)
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	client := transporthttp.NewClient(srv.URL, "selftest-key",
		transporthttp.WithMaxAttempts(2),
		transporthttp.WithTimeout(10*time.Second),
		transporthttp.WithClientLogger(app.logger),
	)
	engine := sync.NewEngine(ob, client, sync.WithLogger(app.logger))

	result, err := engine.SyncOutbox(ctx)
	if err != nil {
		return failf("sync: %v", err)
	}
	if result.Synced != 1 || result.Failed != 0 {
		return failf("sync: unexpected result synced=%d failed=%d", result.Synced, result.Failed)
	}
	report.Sync = true

	again, err := engine.SyncOutbox(ctx)
	if err != nil {
		return failf("re-sync: %v", err)
	}
	if again.Skipped != 1 || stub.SealedCount() != 1 {
		return failf("idempotency: skipped=%d sealed=%d", again.Skipped, stub.SealedCount())
	}
	report.Idempotency = true

	report.OK = true
	return report
}
