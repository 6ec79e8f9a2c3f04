package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kbrag/internal/domain"
)

const (
	IndexFile  = "vectors.idx"
	ChunksFile = "chunks.db"

	SnapshotFormat = "kbrag-flat/v1"
)

// FileStore persists a snapshot as two co-located artifacts: a binary
// vector blob and a bbolt chunk database. Saves and loads through one
// FileStore are serialized.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) indexPath() string  { return filepath.Join(s.dir, IndexFile) }
func (s *FileStore) chunksPath() string { return filepath.Join(s.dir, ChunksFile) }

// Save writes both artifacts to temporary files, then renames them into
// place index first. The previous pair is untouched until both temporary
// files are complete.
func (s *FileStore) Save(snap domain.Snapshot) error {
	if len(snap.Vectors) != len(snap.Chunks) {
		return fmt.Errorf("%d vectors for %d chunks: %w", len(snap.Vectors), len(snap.Chunks), domain.ErrCorruptState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	info := stampInfo(snap)

	idxTmp, err := tempPath(s.dir, IndexFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary index: %w", err)
	}
	defer os.Remove(idxTmp)
	dbTmp, err := tempPath(s.dir, ChunksFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary chunks: %w", err)
	}
	defer os.Remove(dbTmp)

	if err := writeIndexFile(idxTmp, indexBlob{
		Metric:      info.Metric,
		Dimension:   info.Dimension,
		ChunkCount:  info.ChunkCount,
		ChunkDigest: info.ChunkDigest,
		Vectors:     snap.Vectors,
	}); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	if err := writeChunksFile(dbTmp, info, snap.Chunks); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}

	if err := os.Rename(idxTmp, s.indexPath()); err != nil {
		return fmt.Errorf("failed to install index: %w", err)
	}
	if err := os.Rename(dbTmp, s.chunksPath()); err != nil {
		return fmt.Errorf("failed to install chunks: %w", err)
	}

	return nil
}

// Load reads both artifacts and checks they describe the same snapshot.
func (s *FileStore) Load() (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxOK, dbOK := fileExists(s.indexPath()), fileExists(s.chunksPath())
	switch {
	case !idxOK && !dbOK:
		return domain.Snapshot{}, fmt.Errorf("%s: %w", s.dir, domain.ErrNoSnapshot)
	case !idxOK:
		return domain.Snapshot{}, fmt.Errorf("%s missing: %w", IndexFile, domain.ErrNoSnapshot)
	case !dbOK:
		return domain.Snapshot{}, fmt.Errorf("%s missing: %w", ChunksFile, domain.ErrNoSnapshot)
	}

	blob, err := readIndexFile(s.indexPath())
	if err != nil {
		return domain.Snapshot{}, err
	}

	db, err := OpenBoltReadOnly(s.chunksPath())
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%v: %w", err, domain.ErrCorruptState)
	}
	defer db.Close()

	n, err := db.CountChunks()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if n != blob.ChunkCount {
		return domain.Snapshot{}, fmt.Errorf("index expects %d chunks, found %d: %w", blob.ChunkCount, n, domain.ErrCorruptState)
	}

	info, err := db.Info()
	if err != nil {
		return domain.Snapshot{}, err
	}
	schema, err := db.GetSchemaInfo()
	if err != nil {
		return domain.Snapshot{}, err
	}
	info.SchemaVersion = schema.Version
	info.ConfigHash = schema.ConfigHash

	chunks, err := db.Chunks()
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.Snapshot{Info: info, Vectors: blob.Vectors, Chunks: chunks}
	if err := verify(snap, blob); err != nil {
		return domain.Snapshot{}, err
	}

	snap.Info.Metric = blob.Metric
	snap.Info.Dimension = blob.Dimension
	return snap, nil
}

// stampInfo fills the structural fields of the snapshot metadata.
func stampInfo(snap domain.Snapshot) domain.SnapshotInfo {
	info := snap.Info
	info.Format = SnapshotFormat
	info.SchemaVersion = CurrentSchemaVersion
	info.VectorCount = len(snap.Vectors)
	info.ChunkCount = len(snap.Chunks)
	info.ChunkDigest = domain.ChunkDigest(snap.Chunks)
	if info.Metric == "" {
		info.Metric = "l2"
	}
	if info.Dimension == 0 && len(snap.Vectors) > 0 {
		info.Dimension = len(snap.Vectors[0])
	}
	return info
}

func verify(snap domain.Snapshot, blob indexBlob) error {
	digest := domain.ChunkDigest(snap.Chunks)

	switch {
	case len(blob.Vectors) != len(snap.Chunks):
		return fmt.Errorf("%d vectors for %d chunks: %w", len(blob.Vectors), len(snap.Chunks), domain.ErrCorruptState)
	case blob.ChunkCount != len(snap.Chunks):
		return fmt.Errorf("index expects %d chunks, found %d: %w", blob.ChunkCount, len(snap.Chunks), domain.ErrCorruptState)
	case blob.ChunkDigest != digest:
		return fmt.Errorf("chunk digest %08x does not match index %08x: %w", digest, blob.ChunkDigest, domain.ErrCorruptState)
	case snap.Info.ChunkDigest != blob.ChunkDigest:
		return fmt.Errorf("chunk metadata digest %08x does not match index %08x: %w", snap.Info.ChunkDigest, blob.ChunkDigest, domain.ErrCorruptState)
	}
	return nil
}

// tempPath reserves a unique temporary file next to the artifact name.
func tempPath(dir, name string) (string, error) {
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeIndexFile(path string, blob indexBlob) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := encodeIndex(f, blob); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readIndexFile(path string) (indexBlob, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return indexBlob{}, fmt.Errorf("%s: %w", path, domain.ErrNoSnapshot)
		}
		return indexBlob{}, err
	}
	defer f.Close()
	return decodeIndex(f)
}

func writeChunksFile(path string, info domain.SnapshotInfo, chunks []domain.Chunk) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	db, err := NewBoltStore(path)
	if err != nil {
		return err
	}
	if err := db.PutChunks(info, chunks); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
