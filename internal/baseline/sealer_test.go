package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRawFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testSpec(rawFiles []string) DraftSpec {
	return DraftSpec{
		OrgID:      "ORG-1",
		ProjectID:  "PRJ-1",
		CreatedBy:  "field-eng@example.com",
		MeterIDs:   []string{"M-100", "M-200"},
		StartDate:  "2026-01-01",
		EndDate:    "2026-06-30",
		RawFiles:   rawFiles,
		CalcParams: json.RawMessage(`{"rate":0.12}`),
		LicenseID:  "LIC-1",
	}
}

func TestCreateDraftExampleVector(t *testing.T) {
	dir := t.TempDir()
	meter1 := writeRawFile(t, dir, "meter1.csv", "aaaaaaaaaa")
	meter2 := writeRawFile(t, dir, "meter2.csv", "bbbbbbbbbb")

	sealer := NewSealer()
	draft, rawPaths, err := sealer.CreateDraft(testSpec([]string{meter1, meter2}))
	require.NoError(t, err)
	assert.Equal(t, []string{meter1, meter2}, rawPaths)

	sum1 := sha256.Sum256([]byte("aaaaaaaaaa"))
	sum2 := sha256.Sum256([]byte("bbbbbbbbbb"))
	digest1 := hex.EncodeToString(sum1[:])
	digest2 := hex.EncodeToString(sum2[:])

	require.Len(t, draft.FileManifest, 2)
	assert.Equal(t, ManifestEntry{Name: "meter1.csv", SHA256: digest1, Bytes: 10}, draft.FileManifest[0])
	assert.Equal(t, ManifestEntry{Name: "meter2.csv", SHA256: digest2, Bytes: 10}, draft.FileManifest[1])

	sorted := []string{digest1, digest2}
	sort.Strings(sorted)
	combined := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	assert.Equal(t, hex.EncodeToString(combined[:]), draft.RawDataHash)

	calcSum := sha256.Sum256([]byte(`{"rate":0.12}`))
	assert.Equal(t, hex.EncodeToString(calcSum[:]), draft.CalcHash)
	assert.Equal(t, `{"rate":0.12}`, string(draft.CalcParams))

	assert.Equal(t, StatusQueued, draft.Status)
	assert.Empty(t, draft.LastError)
	assert.True(t, strings.HasPrefix(draft.BaselineID, "BL-"))
}

func TestCreateDraftHashDeterminism(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeRawFile(t, dir, "a.csv", "alpha measurements"),
		writeRawFile(t, dir, "b.csv", "beta measurements"),
	}

	sealer := NewSealer()

	spec1 := testSpec(files)
	spec1.BaselineID = "BL-first"
	first, _, err := sealer.CreateDraft(spec1)
	require.NoError(t, err)

	spec2 := testSpec(files)
	spec2.BaselineID = "BL-second"
	second, _, err := sealer.CreateDraft(spec2)
	require.NoError(t, err)

	assert.NotEqual(t, first.BaselineID, second.BaselineID)
	assert.Equal(t, first.RawDataHash, second.RawDataHash)
	assert.Equal(t, first.CalcHash, second.CalcHash)
}

func TestRawDataHashOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := writeRawFile(t, dir, "a.csv", "alpha")
	b := writeRawFile(t, dir, "b.csv", "beta")

	sealer := NewSealer()

	forward, _, err := sealer.CreateDraft(testSpec([]string{a, b}))
	require.NoError(t, err)
	reverse, _, err := sealer.CreateDraft(testSpec([]string{b, a}))
	require.NoError(t, err)

	assert.Equal(t, forward.RawDataHash, reverse.RawDataHash,
		"combined hash must not depend on supply order")
	assert.Equal(t, "a.csv", forward.FileManifest[0].Name)
	assert.Equal(t, "b.csv", reverse.FileManifest[0].Name,
		"manifest must preserve supply order")
}

func TestCreateDraftTamperEvidence(t *testing.T) {
	dir := t.TempDir()
	path := writeRawFile(t, dir, "m.csv", "original-bytes")

	sealer := NewSealer()
	before, _, err := sealer.CreateDraft(testSpec([]string{path}))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("Original-bytes"), 0o644))
	after, _, err := sealer.CreateDraft(testSpec([]string{path}))
	require.NoError(t, err)

	assert.NotEqual(t, before.FileManifest[0].SHA256, after.FileManifest[0].SHA256)
	assert.NotEqual(t, before.RawDataHash, after.RawDataHash)
}

func TestCreateDraftMissingFile(t *testing.T) {
	dir := t.TempDir()
	present := writeRawFile(t, dir, "ok.csv", "data")
	absent := filepath.Join(dir, "missing.csv")

	_, _, err := NewSealer().CreateDraft(testSpec([]string{present, absent}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.csv")
}

func TestCreateDraftRejectsInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	file := writeRawFile(t, dir, "m.csv", "data")

	tests := []struct {
		name   string
		mutate func(*DraftSpec)
	}{
		{"no raw files", func(s *DraftSpec) { s.RawFiles = nil }},
		{"no org", func(s *DraftSpec) { s.OrgID = "" }},
		{"no meters", func(s *DraftSpec) { s.MeterIDs = nil }},
		{"no license", func(s *DraftSpec) { s.LicenseID = "" }},
		{"no calc params", func(s *DraftSpec) { s.CalcParams = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec([]string{file})
			tt.mutate(&spec)
			_, _, err := NewSealer().CreateDraft(spec)
			assert.Error(t, err)
		})
	}
}

func TestCreateDraftRejectsInvalidCalcParams(t *testing.T) {
	dir := t.TempDir()
	file := writeRawFile(t, dir, "m.csv", "data")

	spec := testSpec([]string{file})
	spec.CalcParams = json.RawMessage(`{"rate":`)
	_, _, err := NewSealer().CreateDraft(spec)
	assert.Error(t, err)
}

func TestCreateDraftCalcHashCanonicalization(t *testing.T) {
	dir := t.TempDir()
	file := writeRawFile(t, dir, "m.csv", "data")
	sealer := NewSealer()

	spread := testSpec([]string{file})
	spread.CalcParams = json.RawMessage(`{ "window": "P1Y", "rate": 0.12 }`)
	a, _, err := sealer.CreateDraft(spread)
	require.NoError(t, err)

	compact := testSpec([]string{file})
	compact.CalcParams = json.RawMessage(`{"rate":0.12,"window":"P1Y"}`)
	b, _, err := sealer.CreateDraft(compact)
	require.NoError(t, err)

	assert.Equal(t, a.CalcHash, b.CalcHash,
		"logically identical params must hash identically")
}

func TestCreateDraftTimestampSecondsPrecision(t *testing.T) {
	dir := t.TempDir()
	file := writeRawFile(t, dir, "m.csv", "data")

	fixed := time.Date(2026, 8, 31, 10, 30, 45, 123456789, time.FixedZone("X", 3*3600))
	sealer := NewSealer(WithClock(func() time.Time { return fixed }))

	draft, _, err := sealer.CreateDraft(testSpec([]string{file}))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 31, 7, 30, 45, 0, time.UTC), draft.CreatedAt)
}

func TestStatusStateMachine(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusQueued, StatusSyncing, true},
		{StatusQueued, StatusSynced, false},
		{StatusQueued, StatusFailed, false},
		{StatusSyncing, StatusSynced, true},
		{StatusSyncing, StatusFailed, true},
		{StatusSyncing, StatusQueued, false},
		{StatusFailed, StatusSyncing, true},
		{StatusFailed, StatusSynced, false},
		{StatusSynced, StatusSyncing, false},
		{StatusSynced, StatusFailed, false},
		{StatusSynced, StatusQueued, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}
