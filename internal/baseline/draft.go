// Package baseline seals raw measurement files and calculation
// parameters into content-addressed, tamper-evident draft records.
// A draft is the evidentiary claim of exactly which bytes and which
// parameters produced a result; any auditor can recompute its hashes
// from the manifest and confirm nothing was added, removed, or
// altered after sealing.
package baseline

import (
	"encoding/json"
	"time"
)

// Status is the sync lifecycle state of a draft.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"

	// StatusCorrupt is reported by outbox summaries for bundles whose
	// metadata cannot be read. It is never persisted.
	StatusCorrupt Status = "corrupt"
)

// CanTransitionTo enforces the forward-only state machine:
// queued → syncing → {synced | failed}, failed → syncing for retries.
// synced is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusSynced || next == StatusFailed
	case StatusFailed:
		return next == StatusSyncing
	default:
		return false
	}
}

// ManifestEntry records one raw input file: name, content digest, and
// size. Manifest order preserves the order files were supplied in.
type ManifestEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// Draft is the sealed record of one measurement-and-calculation
// event. BaselineID is immutable once assigned; only Status and
// LastError change afterwards, and only through the sync engine.
type Draft struct {
	BaselineID   string          `json:"baseline_id"`
	OrgID        string          `json:"org_id"`
	ProjectID    string          `json:"project_id"`
	CreatedBy    string          `json:"created_by"`
	MeterIDs     []string        `json:"meter_ids"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	RawDataHash  string          `json:"raw_data_hash"`
	CalcHash     string          `json:"calc_hash"`
	CalcParams   json.RawMessage `json:"calc_params"`
	FileManifest []ManifestEntry `json:"file_manifest"`
	CreatedAt    time.Time       `json:"created_at"`
	Status       Status          `json:"status"`
	LastError    string          `json:"last_error"`
	LicenseID    string          `json:"license_id"`
}
