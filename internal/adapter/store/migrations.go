package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
	"kbrag/config"
	"kbrag/internal/domain"
)

// CurrentSchemaVersion is the chunk database schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyConfigHash    = []byte("config_hash")
)

// SchemaInfo stores schema version and configuration hash.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// GetSchemaInfo retrieves the schema info from the database.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}

		versionData := b.Get(keySchemaVersion)
		if versionData != nil {
			if err := json.Unmarshal(versionData, &info.Version); err != nil {
				info.Version = 0
			}
		}

		hashData := b.Get(keyConfigHash)
		if hashData != nil {
			info.ConfigHash = string(hashData)
		}

		return nil
	})
	return &info, err
}

func putSchemaInfo(b *bbolt.Bucket, info *SchemaInfo) error {
	versionData, err := json.Marshal(info.Version)
	if err != nil {
		return err
	}
	if err := b.Put(keySchemaVersion, versionData); err != nil {
		return err
	}
	return b.Put(keyConfigHash, []byte(info.ConfigHash))
}

// ComputeConfigHash computes a hash of index-relevant configuration.
// Changes to this hash indicate the index should be rebuilt.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
		Metric       string `json:"metric"`
		EmbProvider  string `json:"emb_provider"`
		EmbModel     string `json:"emb_model"`
		EmbDimension int    `json:"emb_dimension"`
	}{
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		Metric:       cfg.Index.Metric,
		EmbProvider:  cfg.Embedding.Provider,
		EmbModel:     cfg.Embedding.Model,
		EmbDimension: cfg.Embedding.Dimension,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes whether a loaded snapshot is still usable.
type MigrationResult struct {
	NeedsRebuild bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckMigration compares a snapshot's metadata with the running
// configuration. An empty configHash skips the configuration check.
func CheckMigration(info domain.SnapshotInfo, configHash string) *MigrationResult {
	result := &MigrationResult{
		OldVersion: info.SchemaVersion,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.SchemaVersion == 0:
		result.NeedsRebuild = true
		result.Reason = "snapshot has no schema version"
	case info.SchemaVersion < CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.SchemaVersion, CurrentSchemaVersion)
	case info.SchemaVersion > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("snapshot created by newer version (v%d > v%d)", info.SchemaVersion, CurrentSchemaVersion)
	case configHash != "" && info.ConfigHash != "" && info.ConfigHash != configHash:
		result.NeedsRebuild = true
		result.Reason = "index configuration changed"
	}

	return result
}
