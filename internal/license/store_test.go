package license

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	_, priv := testKeyPair(t)
	doc := signedDocument(t, priv, nil)

	// Parent directories are created on demand.
	path := filepath.Join(t.TempDir(), "license", "license.json")
	store := NewStore(path)
	assert.False(t, store.Exists())

	saved, err := store.Save(doc)
	require.NoError(t, err)
	assert.Equal(t, path, saved)
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, doc.LicenseID, loaded.LicenseID)
	assert.Equal(t, doc.Signature, loaded.Signature)
	assert.Equal(t, doc.Expiry.UTC(), loaded.Expiry.UTC())
}

func TestStoreSavedDocumentStillVerifies(t *testing.T) {
	pub, priv := testKeyPair(t)
	doc := signedDocument(t, priv, nil)

	store := NewStore(filepath.Join(t.TempDir(), "license.json"))
	_, err := store.Save(doc)
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, NewVerifier(pub).Verify(loaded).OK,
		"canonical persistence must not break the signature")
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))

	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"license_id": tru`), 0o644))

	_, err := NewStore(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	_, priv := testKeyPair(t)
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "license.json"))

	_, err := store.Save(signedDocument(t, priv, nil))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "license.json", entries[0].Name())
}
