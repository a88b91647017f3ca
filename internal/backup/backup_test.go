package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldvault/coldvault/internal/lifecycle"
	"github.com/coldvault/coldvault/internal/store"
	"github.com/coldvault/coldvault/internal/wipe"
)

func TestMain(m *testing.M) {
	_ = os.Setenv("COLDVAULT_TEST", "1")
	os.Exit(m.Run())
}

func newTestExporter(t *testing.T) (*Exporter, *store.Store) {
	t.Helper()
	root := t.TempDir()
	s, err := store.New(root, zerolog.Nop(), nil)
	require.NoError(t, err)
	w, err := wipe.New(filepath.Join(root, "audit"), zerolog.Nop(), nil)
	require.NoError(t, err)
	m, err := lifecycle.New(s, w, zerolog.Nop(), nil)
	require.NoError(t, err)
	e, err := New(s, m, zerolog.Nop())
	require.NoError(t, err)
	return e, s
}

func TestExportRoundTrip(t *testing.T) {
	e, s := newTestExporter(t)
	_, err := s.Create(store.TypeUsers, "u1", store.Attributes{"name": "A"})
	require.NoError(t, err)
	_, err = s.AppendRecord(store.TypeUsers, "u1", store.Attributes{"name": "B"})
	require.NoError(t, err)
	_, err = s.Create(store.TypeUsers, "u2", store.Attributes{"name": "C"})
	require.NoError(t, err)

	snap, err := e.Export(store.TypeUsers)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Entities)
	assert.True(t, strings.HasSuffix(snap.Path, ".ndjson.zst"))
	assert.FileExists(t, snap.Path)
	assert.NotEmpty(t, snap.SHA256)
	assert.Greater(t, snap.RawBytes, int64(0))

	lines, err := e.ReadSnapshot(snap.Path)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	byID := map[string]SnapshotLine{}
	for _, l := range lines {
		byID[l.ID] = l
	}
	require.Len(t, byID["u1"].Records, 2)
	assert.Equal(t, "B", byID["u1"].Records[1].Attributes["name"])
	require.Len(t, byID["u2"].Records, 1)
}

func TestExportSetsBackupVerified(t *testing.T) {
	e, s := newTestExporter(t)
	_, err := s.Create(store.TypeUsers, "u1", nil)
	require.NoError(t, err)

	meta, err := s.ReadMetadata(store.TypeUsers, "u1")
	require.NoError(t, err)
	require.False(t, meta.BackupVerified)

	_, err = e.Export(store.TypeUsers)
	require.NoError(t, err)

	meta, err = s.ReadMetadata(store.TypeUsers, "u1")
	require.NoError(t, err)
	assert.True(t, meta.BackupVerified)
}

func TestExportEmptyType(t *testing.T) {
	e, _ := newTestExporter(t)
	snap, err := e.Export(store.TypeDevices)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Entities)
}

func TestVerifyIntegritySetsFlag(t *testing.T) {
	e, s := newTestExporter(t)
	_, err := s.Create(store.TypeUsers, "u1", store.Attributes{"n": float64(1)})
	require.NoError(t, err)
	_, err = s.AppendRecord(store.TypeUsers, "u1", store.Attributes{"n": float64(2)})
	require.NoError(t, err)

	report, err := e.VerifyIntegrity(store.TypeUsers, "u1")
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 2, report.IndexEntries)

	meta, err := s.ReadMetadata(store.TypeUsers, "u1")
	require.NoError(t, err)
	assert.True(t, meta.IntegrityVerified)
}

func TestVerifyIntegrityDetectsIndexMismatch(t *testing.T) {
	e, s := newTestExporter(t)
	_, err := s.Create(store.TypeUsers, "u1", nil)
	require.NoError(t, err)

	// Corrupt the index by doubling its length.
	idxPath := strings.TrimSuffix(s.LogPath(store.TypeUsers, "u1"), store.ExtLog) + store.ExtIdx
	idx, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(idxPath, append(idx, idx...), 0o644))

	report, err := e.VerifyIntegrity(store.TypeUsers, "u1")
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.False(t, report.Match)
	assert.NotEmpty(t, report.Detail)

	meta, err := s.ReadMetadata(store.TypeUsers, "u1")
	require.NoError(t, err)
	assert.False(t, meta.IntegrityVerified)
}

func TestVerifyIntegrityDetectsCorruptRecord(t *testing.T) {
	e, s := newTestExporter(t)
	_, err := s.Create(store.TypeUsers, "u1", nil)
	require.NoError(t, err)

	logPath := s.LogPath(store.TypeUsers, "u1")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = e.VerifyIntegrity(store.TypeUsers, "u1")
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
}
