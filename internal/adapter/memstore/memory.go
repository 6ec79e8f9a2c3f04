package memstore

import (
	"fmt"
	"sync"

	"kbrag/internal/adapter/store"
	"kbrag/internal/domain"
)

// SnapshotFormat identifies snapshots held in memory.
const SnapshotFormat = "kbrag-memory/v1"

// MemoryStore keeps a single snapshot in process memory. It is used when
// no index directory is configured and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  *domain.Snapshot
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(snap domain.Snapshot) error {
	if len(snap.Vectors) != len(snap.Chunks) {
		return fmt.Errorf("%d vectors for %d chunks: %w", len(snap.Vectors), len(snap.Chunks), domain.ErrCorruptState)
	}

	cp := copySnapshot(snap)
	cp.Info.Format = SnapshotFormat
	cp.Info.SchemaVersion = store.CurrentSchemaVersion
	cp.Info.VectorCount = len(cp.Vectors)
	cp.Info.ChunkCount = len(cp.Chunks)
	cp.Info.ChunkDigest = domain.ChunkDigest(cp.Chunks)
	if cp.Info.Dimension == 0 && len(cp.Vectors) > 0 {
		cp.Info.Dimension = len(cp.Vectors[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &cp
	s.saves++
	return nil
}

func (s *MemoryStore) Load() (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return domain.Snapshot{}, fmt.Errorf("memory store is empty: %w", domain.ErrNoSnapshot)
	}
	return copySnapshot(*s.snap), nil
}

// Saves returns how many snapshots have been stored.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func copySnapshot(snap domain.Snapshot) domain.Snapshot {
	out := domain.Snapshot{
		Info:    snap.Info,
		Vectors: make([][]float32, len(snap.Vectors)),
		Chunks:  make([]domain.Chunk, len(snap.Chunks)),
	}
	for i, v := range snap.Vectors {
		out.Vectors[i] = append([]float32(nil), v...)
	}
	for i, c := range snap.Chunks {
		out.Chunks[i] = domain.Chunk{Text: c.Text, Metadata: c.Metadata.Clone()}
	}
	return out
}

// FailingStore is a SnapshotStore whose Save always fails. Load returns
// whatever the wrapped store holds.
type FailingStore struct {
	*MemoryStore
	Err error
}

func (s *FailingStore) Save(domain.Snapshot) error {
	return s.Err
}
