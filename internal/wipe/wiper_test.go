package wipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = os.Setenv("COLDVAULT_TEST", "1")
	os.Exit(m.Run())
}

func newTestWiper(t *testing.T) (*Wiper, string) {
	t.Helper()
	root := t.TempDir()
	w, err := New(filepath.Join(root, "audit"), zerolog.Nop(), nil)
	require.NoError(t, err)
	return w, root
}

func TestSecureWipeRemovesFileWithDistinctHashes(t *testing.T) {
	w, root := newTestWiper(t)
	path := filepath.Join(root, "secret.log")
	require.NoError(t, os.WriteFile(path, []byte("classified content"), 0o644))

	proof, err := w.SecureWipe(path)
	require.NoError(t, err)
	assert.Equal(t, StatusWiped, proof.Status)
	assert.True(t, proof.Verified)
	assert.True(t, w.VerifyWipe(path))

	// The three hashes are pairwise distinct for non-empty content.
	assert.NotEqual(t, proof.HashBefore, proof.HashAfterRandom)
	assert.NotEqual(t, proof.HashBefore, proof.HashAfterZero)
	assert.NotEqual(t, proof.HashAfterRandom, proof.HashAfterZero)
}

func TestSecureWipeAbsentFileIsSkipped(t *testing.T) {
	w, root := newTestWiper(t)

	proof, err := w.SecureWipe(filepath.Join(root, "missing.log"))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, proof.Status)
	assert.False(t, proof.Verified)
}

func TestSecureWipeEmptyFileVacuouslyVerified(t *testing.T) {
	w, root := newTestWiper(t)
	path := filepath.Join(root, "empty.lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	proof, err := w.SecureWipe(path)
	require.NoError(t, err)
	assert.Equal(t, StatusWiped, proof.Status)
	// Nothing to overwrite: the wipe counts as verified, and no pass
	// hashes are recorded.
	assert.True(t, proof.Verified)
	assert.Empty(t, proof.HashBefore)
	assert.True(t, w.VerifyWipe(path))
}

func TestEveryAttemptIsLogged(t *testing.T) {
	w, root := newTestWiper(t)
	path := filepath.Join(root, "f.log")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	_, err := w.SecureWipe(path)
	require.NoError(t, err)
	_, err = w.SecureWipe(path) // now absent -> SKIPPED, still logged
	require.NoError(t, err)

	proofs, err := w.ReadProofs()
	require.NoError(t, err)
	require.Len(t, proofs, 2)
	assert.Equal(t, StatusWiped, proofs[0].Status)
	assert.Equal(t, StatusSkipped, proofs[1].Status)
	assert.NotEmpty(t, proofs[0].ID)
	assert.NotEqual(t, proofs[0].ID, proofs[1].ID)
}

func TestSecureWipeEntity(t *testing.T) {
	w, root := newTestWiper(t)
	dir := filepath.Join(root, "users")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, ext := range []string{".log", ".idx", ".meta"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "u1"+ext), []byte("content "+ext), 0o644))
	}
	// No .lock file on disk — wiping it is SKIPPED, which doesn't fail the entity.

	result, err := w.SecureWipeEntity(dir, "u1")
	require.NoError(t, err)
	assert.True(t, result.AllVerified)
	require.Len(t, result.Proofs, 4)

	for _, ext := range []string{".log", ".idx", ".meta", ".lock"} {
		assert.True(t, w.VerifyWipe(filepath.Join(dir, "u1"+ext)))
	}
}

func TestSecureWipeEntityWithLockMarker(t *testing.T) {
	w, root := newTestWiper(t)
	dir := filepath.Join(root, "users")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, ext := range []string{".log", ".idx", ".meta"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "u2"+ext), []byte("content "+ext), 0o644))
	}
	// The zero-byte lock marker left behind by entity creation must not
	// sink AllVerified.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u2.lock"), nil, 0o644))

	result, err := w.SecureWipeEntity(dir, "u2")
	require.NoError(t, err)
	assert.True(t, result.AllVerified)
	require.Len(t, result.Proofs, 4)
	for _, p := range result.Proofs {
		assert.Equal(t, StatusWiped, p.Status)
		assert.True(t, p.Verified)
	}
}

func TestSecureWipeLargeFile(t *testing.T) {
	w, root := newTestWiper(t)
	path := filepath.Join(root, "big.log")

	big := make([]byte, 3*1024*1024+17)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, big, 0o644))

	proof, err := w.SecureWipe(path)
	require.NoError(t, err)
	assert.True(t, proof.Verified)
	assert.Equal(t, int64(len(big)), proof.Size)
}
