package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbrag/config"
	"kbrag/internal/domain"
)

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Info: domain.SnapshotInfo{
			Metric:     "l2",
			Model:      "hash-64",
			ConfigHash: "abc123",
			BuiltAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Vectors: [][]float32{
			{0.1, 0.2, 0.3},
			{-1.5, 0, 2.25},
		},
		Chunks: []domain.Chunk{
			{Text: "Pytanie: Jak zwrócić?\n\nOdpowiedź: W 14 dni.", Metadata: domain.Metadata{
				"source": "FAQ", "category": "zwrot", "type": "qa_pair",
			}},
			{Text: "Klient: Gdzie paczka?\n\nAsystent: W drodze.", Metadata: domain.Metadata{
				"source": "Support Dialogs", "confidence": 0.9,
			}},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "idx"))
	snap := testSnapshot()

	require.NoError(t, s.Save(snap))
	assert.True(t, hasArtifacts(s))

	got, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, snap.Vectors, got.Vectors)
	require.Len(t, got.Chunks, 2)
	for i := range snap.Chunks {
		assert.Equal(t, snap.Chunks[i].Text, got.Chunks[i].Text)
		assert.Equal(t, snap.Chunks[i].Metadata, got.Chunks[i].Metadata)
	}

	assert.Equal(t, SnapshotFormat, got.Info.Format)
	assert.Equal(t, CurrentSchemaVersion, got.Info.SchemaVersion)
	assert.Equal(t, "l2", got.Info.Metric)
	assert.Equal(t, 3, got.Info.Dimension)
	assert.Equal(t, 2, got.Info.VectorCount)
	assert.Equal(t, 2, got.Info.ChunkCount)
	assert.Equal(t, domain.ChunkDigest(snap.Chunks), got.Info.ChunkDigest)
	assert.Equal(t, "hash-64", got.Info.Model)
	assert.Equal(t, "abc123", got.Info.ConfigHash)
	assert.True(t, snap.Info.BuiltAt.Equal(got.Info.BuiltAt))
}

func TestFileStoreOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	first := testSnapshot()
	require.NoError(t, s.Save(first))

	second := domain.Snapshot{
		Info:    domain.SnapshotInfo{Metric: "cosine"},
		Vectors: [][]float32{{1, 2}},
		Chunks:  []domain.Chunk{{Text: "nowy", Metadata: domain.Metadata{"source": "Documents"}}},
	}
	require.NoError(t, s.Save(second))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, second.Vectors, got.Vectors)
	assert.Equal(t, "cosine", got.Info.Metric)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, "nowy", got.Chunks[0].Text)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, ".tmp", filepath.Ext(e.Name()), "temporary file left behind: %s", e.Name())
	}
}

func TestFileStoreConcurrentSaves(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)

	snapshots := make([]domain.Snapshot, 8)
	for i := range snapshots {
		snapshots[i] = domain.Snapshot{
			Vectors: [][]float32{{float32(i), 1}},
			Chunks:  []domain.Chunk{{Text: fmt.Sprintf("wersja %d", i)}},
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(snapshots)*5)
	for round := 0; round < 5; round++ {
		for _, snap := range snapshots {
			wg.Add(1)
			go func(snap domain.Snapshot) {
				defer wg.Done()
				errs <- s.Save(snap)
			}(snap)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, fmt.Sprintf("wersja %d", int(got.Vectors[0][0])), got.Chunks[0].Text)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the two artifacts should remain")
}

func TestFileStoreMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)

	_, err := s.Load()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)

	require.NoError(t, s.Save(testSnapshot()))
	require.NoError(t, os.Remove(filepath.Join(dir, ChunksFile)))
	_, err = s.Load()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
	assert.False(t, hasArtifacts(s))

	require.NoError(t, s.Save(testSnapshot()))
	require.NoError(t, os.Remove(filepath.Join(dir, IndexFile)))
	_, err = s.Load()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestFileStoreCorruptPayload(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	require.NoError(t, s.Save(testSnapshot()))

	path := filepath.Join(dir, IndexFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[24] ^= 0xff // first payload byte
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = s.Load()
	assert.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestFileStoreMismatchedPair(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	a, b := NewFileStore(dirA), NewFileStore(dirB)

	snapA := testSnapshot()
	snapB := testSnapshot()
	snapB.Chunks[0].Text = "inna treść"

	require.NoError(t, a.Save(snapA))
	require.NoError(t, b.Save(snapB))

	data, err := os.ReadFile(filepath.Join(dirB, ChunksFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirA, ChunksFile), data, 0600))

	_, err = a.Load()
	assert.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestFileStoreCountMismatch(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	a, b := NewFileStore(dirA), NewFileStore(dirB)

	snapB := testSnapshot()
	snapB.Vectors = snapB.Vectors[:1]
	snapB.Chunks = snapB.Chunks[:1]

	require.NoError(t, a.Save(testSnapshot()))
	require.NoError(t, b.Save(snapB))

	data, err := os.ReadFile(filepath.Join(dirB, ChunksFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirA, ChunksFile), data, 0600))

	_, err = a.Load()
	assert.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestFileStoreSaveRejectsMismatch(t *testing.T) {
	s := NewFileStore(t.TempDir())
	snap := testSnapshot()
	snap.Vectors = snap.Vectors[:1]

	err := s.Save(snap)
	assert.ErrorIs(t, err, domain.ErrCorruptState)
	assert.False(t, hasArtifacts(s))
}

func TestDecodeIndexRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, encodeIndex(&buf, indexBlob{
		Metric:    "l2",
		Dimension: 2,
		Vectors:   [][]float32{{1, 2}},
	}))
	good := buf.Bytes()

	blob, err := decodeIndex(bytes.NewReader(good))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, blob.Vectors)

	tests := map[string][]byte{
		"bad magic": append([]byte("XXXX"), good[4:]...),
		"truncated": good[:len(good)-2],
		"trailing":  append(append([]byte{}, good...), 0),
		"empty":     {},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeIndex(bytes.NewReader(data))
			assert.ErrorIs(t, err, domain.ErrCorruptState)
		})
	}
}

func TestEncodeIndexRejectsUnknownMetric(t *testing.T) {
	var buf bytes.Buffer
	err := encodeIndex(&buf, indexBlob{Metric: "hamming"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCheckMigration(t *testing.T) {
	tests := []struct {
		name    string
		info    domain.SnapshotInfo
		hash    string
		rebuild bool
	}{
		{"current", domain.SnapshotInfo{SchemaVersion: CurrentSchemaVersion, ConfigHash: "h"}, "h", false},
		{"no hash check", domain.SnapshotInfo{SchemaVersion: CurrentSchemaVersion, ConfigHash: "h"}, "", false},
		{"config changed", domain.SnapshotInfo{SchemaVersion: CurrentSchemaVersion, ConfigHash: "h"}, "other", true},
		{"unversioned", domain.SnapshotInfo{}, "h", true},
		{"newer", domain.SnapshotInfo{SchemaVersion: CurrentSchemaVersion + 1}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckMigration(tt.info, tt.hash)
			assert.Equal(t, tt.rebuild, result.NeedsRebuild, result.Reason)
		})
	}
}

func TestComputeConfigHash(t *testing.T) {
	cfg := config.DefaultConfig()
	base := ComputeConfigHash(cfg)
	assert.Len(t, base, 16)
	assert.Equal(t, base, ComputeConfigHash(config.DefaultConfig()))

	cfg.Retrieve.TopK = 50
	assert.Equal(t, base, ComputeConfigHash(cfg), "query settings must not affect the index hash")

	cfg.Index.ChunkSize = 300
	assert.NotEqual(t, base, ComputeConfigHash(cfg))
}

func TestBoltStoreSchemaInfo(t *testing.T) {
	db, err := NewBoltStore(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	defer db.Close()

	info, err := db.GetSchemaInfo()
	require.NoError(t, err)
	assert.Equal(t, 0, info.Version)

	snap := testSnapshot()
	require.NoError(t, db.PutChunks(domain.SnapshotInfo{SchemaVersion: CurrentSchemaVersion, ConfigHash: "h"}, snap.Chunks))

	info, err = db.GetSchemaInfo()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, info.Version)
	assert.Equal(t, "h", info.ConfigHash)

	n, err := db.CountChunks()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func hasArtifacts(s *FileStore) bool {
	return fileExists(s.indexPath()) && fileExists(s.chunksPath())
}
