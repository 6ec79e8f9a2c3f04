package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"kbrag/internal/domain"
)

var (
	bucketChunks = []byte("chunks")
	bucketMeta   = []byte("meta")
	keyInfo      = []byte("snapshot_info")
)

// BoltStore holds the chunk half of a snapshot: chunk JSON keyed by
// big-endian position plus snapshot metadata.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a chunk database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	return openBolt(path, false)
}

// OpenBoltReadOnly opens an existing chunk database without write access.
func OpenBoltReadOnly(path string) (*BoltStore, error) {
	return openBolt(path, true)
}

func openBolt(path string, readOnly bool) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			for _, b := range [][]byte{bucketChunks, bucketMeta} {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return fmt.Errorf("failed to create bucket %s: %w", b, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func positionKey(pos int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(pos))
	return key
}

// PutChunks replaces the stored chunks and metadata in one transaction.
func (s *BoltStore) PutChunks(info domain.SnapshotInfo, chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChunks) != nil {
			if err := tx.DeleteBucket(bucketChunks); err != nil {
				return err
			}
		}
		chunksBucket, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		chunksBucket.FillPercent = 1.0

		for i, chunk := range chunks {
			data, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if err := chunksBucket.Put(positionKey(i), data); err != nil {
				return err
			}
		}

		infoData, err := json.Marshal(info)
		if err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyInfo, infoData); err != nil {
			return err
		}
		return putSchemaInfo(meta, &SchemaInfo{Version: info.SchemaVersion, ConfigHash: info.ConfigHash})
	})
}

// Chunks returns all chunks in position order. A gap in the key sequence
// means the database does not describe a contiguous index.
func (s *BoltStore) Chunks() ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b == nil {
			return fmt.Errorf("chunks bucket missing: %w", domain.ErrCorruptState)
		}

		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 || binary.BigEndian.Uint64(k) != uint64(len(chunks)) {
				return fmt.Errorf("unexpected chunk key %x at position %d: %w", k, len(chunks), domain.ErrCorruptState)
			}
			var chunk domain.Chunk
			if err := json.Unmarshal(v, &chunk); err != nil {
				return fmt.Errorf("chunk %d: %v: %w", len(chunks), err, domain.ErrCorruptState)
			}
			chunks = append(chunks, chunk)
			return nil
		})
	})
	return chunks, err
}

// Info returns the snapshot metadata stored alongside the chunks.
func (s *BoltStore) Info() (domain.SnapshotInfo, error) {
	var info domain.SnapshotInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return fmt.Errorf("meta bucket missing: %w", domain.ErrCorruptState)
		}
		data := b.Get(keyInfo)
		if data == nil {
			return fmt.Errorf("snapshot info missing: %w", domain.ErrCorruptState)
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("snapshot info: %v: %w", err, domain.ErrCorruptState)
		}
		return nil
	})
	return info, err
}

// CountChunks returns the number of stored chunks.
func (s *BoltStore) CountChunks() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketChunks); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}
