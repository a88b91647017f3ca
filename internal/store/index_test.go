package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexTracksRecordOffsets(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(TypeUsers, "u1", Attributes{"name": "A"})
	require.NoError(t, err)
	_, err = s.AppendRecord(TypeUsers, "u1", Attributes{"name": "B"})
	require.NoError(t, err)

	offsets, err := s.RecordOffsets(TypeUsers, "u1")
	require.NoError(t, err)
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(0), offsets[0])
	assert.Greater(t, offsets[1], int64(0))

	// Each offset points at the start of a record line in the log.
	data, err := os.ReadFile(s.LogPath(TypeUsers, "u1"))
	require.NoError(t, err)
	assert.Equal(t, byte('{'), data[offsets[1]])
}

func TestRebuildIndexFromLog(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(TypeUsers, "u1", Attributes{"name": "A"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = s.AppendRecord(TypeUsers, "u1", Attributes{"i": float64(i)})
		require.NoError(t, err)
	}

	before, err := s.RecordOffsets(TypeUsers, "u1")
	require.NoError(t, err)

	// Trash the index file, then rebuild it from the log alone.
	idxPath := s.entityPath(TypeUsers, "u1", ExtIdx)
	require.NoError(t, os.WriteFile(idxPath, []byte("garbage!"), 0o644))

	require.NoError(t, s.RebuildIndex(TypeUsers, "u1"))

	after, err := s.RecordOffsets(TypeUsers, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRebuildIndexMissingLog(t *testing.T) {
	s := newTestStore(t)
	err := s.RebuildIndex(TypeUsers, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskUsage(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(TypeReports, "r1", Attributes{"title": "x"})
	require.NoError(t, err)
	_, err = s.Create(TypeReports, "r2", Attributes{"title": "y"})
	require.NoError(t, err)

	usage, err := s.DiskUsage(TypeReports)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Entities)
	assert.Greater(t, usage.Files, 2)
	assert.Greater(t, usage.TotalBytes, int64(0))
}
