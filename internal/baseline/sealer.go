package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"emvcli/internal/canonjson"
)

// DraftSpec carries the caller-supplied inputs for sealing. Business
// fields are recorded, not validated for correctness; presence is
// enforced at construction so a malformed request fails before any
// hashing starts.
type DraftSpec struct {
	OrgID      string          `validate:"required"`
	ProjectID  string          `validate:"required"`
	CreatedBy  string          `validate:"required"`
	MeterIDs   []string        `validate:"min=1"`
	StartDate  string          `validate:"required"`
	EndDate    string          `validate:"required"`
	RawFiles   []string        `validate:"min=1"`
	CalcParams json.RawMessage `validate:"required"`
	LicenseID  string          `validate:"required"`
	// BaselineID is optional; a BL-<uuid> id is generated when empty.
	BaselineID string
}

var validate = validator.New()

// Sealer builds sealed drafts from raw files and calc parameters.
type Sealer struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// SealerOption configures a Sealer.
type SealerOption func(*Sealer)

// WithLogger sets the sealer's logger.
func WithLogger(logger *slog.Logger) SealerOption {
	return func(s *Sealer) { s.logger = logger }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) SealerOption {
	return func(s *Sealer) { s.now = now }
}

// NewSealer creates a Sealer.
func NewSealer(opts ...SealerOption) *Sealer {
	s := &Sealer{
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return "BL-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDraft hashes every raw file and the calc parameters and
// assembles a queued Draft. It returns the raw file paths alongside
// for the caller to hand to bundle materialization. Nothing is
// written to disk here; a missing or unreadable file fails before any
// state exists anywhere.
func (s *Sealer) CreateDraft(spec DraftSpec) (*Draft, []string, error) {
	if err := validate.Struct(&spec); err != nil {
		return nil, nil, fmt.Errorf("invalid draft spec: %w", err)
	}

	manifest := make([]ManifestEntry, 0, len(spec.RawFiles))
	digests := make([]string, 0, len(spec.RawFiles))
	for _, path := range spec.RawFiles {
		entry, err := hashFile(path)
		if err != nil {
			return nil, nil, err
		}
		manifest = append(manifest, entry)
		digests = append(digests, entry.SHA256)
	}

	calcParams, err := canonjson.Canonicalize(spec.CalcParams)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid calc params: %w", err)
	}
	calcSum := sha256.Sum256(calcParams)

	baselineID := spec.BaselineID
	if baselineID == "" {
		baselineID = s.newID()
	}

	draft := &Draft{
		BaselineID:   baselineID,
		OrgID:        spec.OrgID,
		ProjectID:    spec.ProjectID,
		CreatedBy:    spec.CreatedBy,
		MeterIDs:     spec.MeterIDs,
		StartDate:    spec.StartDate,
		EndDate:      spec.EndDate,
		RawDataHash:  CombineDigests(digests),
		CalcHash:     hex.EncodeToString(calcSum[:]),
		CalcParams:   calcParams,
		FileManifest: manifest,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
		Status:       StatusQueued,
		LicenseID:    spec.LicenseID,
	}

	s.logger.Info("baseline draft sealed",
		slog.String("baseline_id", draft.BaselineID),
		slog.String("project_id", draft.ProjectID),
		slog.Int("files", len(manifest)),
		slog.String("raw_data_hash", draft.RawDataHash),
	)
	return draft, spec.RawFiles, nil
}

// CombineDigests folds per-file hex digests into the single
// raw_data_hash. The digests are sorted before joining with "|" so
// the combined hash is independent of the order files were supplied
// in, while the manifest itself preserves that order. Both sides of
// this asymmetry are load-bearing for hash compatibility.
func CombineDigests(digests []string) string {
	sorted := make([]string, len(digests))
	copy(sorted, digests)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("failed to open raw file %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("failed to hash raw file %s: %w", path, err)
	}

	return ManifestEntry{
		Name:   filepath.Base(path),
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Bytes:  n,
	}, nil
}
