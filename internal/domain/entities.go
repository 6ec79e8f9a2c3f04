package domain

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Metadata keys shared by every document adapter.
const (
	MetaSource     = "source"
	MetaCategory   = "category"
	MetaSection    = "section"
	MetaType       = "type"
	MetaConfidence = "confidence"
)

// Metadata holds chunk provenance. Values are strings or numbers.
type Metadata map[string]any

// String returns the value under key rendered as a string, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// Clone returns a shallow copy so callers cannot mutate indexed chunks.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Chunk is the atomic retrieval unit: bounded text plus provenance.
type Chunk struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// ScoredChunk is a chunk in a result set. Score semantics depend on the
// retriever: raw distance for vector search (lower is better), keyword
// overlap for the fallback (higher is better).
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// FAQEntry is a single question/answer pair.
type FAQEntry struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
	Category string `json:"category,omitempty" yaml:"category"`
}

// RegulationSection is one titled section of the terms and conditions.
type RegulationSection struct {
	Section string `json:"section" yaml:"section"`
	Content string `json:"content" yaml:"content"`
}

// Dialog is one customer/assistant exchange from the support archive.
type Dialog struct {
	CustomerQuery string  `json:"customer_query" yaml:"customer_query"`
	AIResponse    string  `json:"ai_response" yaml:"ai_response"`
	Category      string  `json:"category,omitempty" yaml:"category"`
	Confidence    float64 `json:"confidence,omitempty" yaml:"confidence"`
}

// Document is free text with caller-supplied metadata.
type Document struct {
	Text     string   `json:"text" yaml:"text"`
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata"`
}

// Corpus groups the knowledge-base collections by document type.
type Corpus struct {
	FAQ         []FAQEntry          `json:"faq,omitempty"`
	Regulations []RegulationSection `json:"regulations,omitempty"`
	Dialogs     []Dialog            `json:"dialogs,omitempty"`
	Documents   []Document          `json:"documents,omitempty"`
}

// Merge appends other's collections to c.
func (c *Corpus) Merge(other Corpus) {
	c.FAQ = append(c.FAQ, other.FAQ...)
	c.Regulations = append(c.Regulations, other.Regulations...)
	c.Dialogs = append(c.Dialogs, other.Dialogs...)
	c.Documents = append(c.Documents, other.Documents...)
}

// Size returns the total number of records across all collections.
func (c Corpus) Size() int {
	return len(c.FAQ) + len(c.Regulations) + len(c.Dialogs) + len(c.Documents)
}

// SnapshotInfo describes a persisted (index, chunks) pair.
type SnapshotInfo struct {
	Format        string    `json:"format"`
	SchemaVersion int       `json:"schema_version"`
	Metric        string    `json:"metric"`
	Dimension     int       `json:"dimension"`
	VectorCount   int       `json:"vector_count"`
	ChunkCount    int       `json:"chunk_count"`
	ChunkDigest   uint32    `json:"chunk_digest"`
	Model         string    `json:"model"`
	ConfigHash    string    `json:"config_hash"`
	BuiltAt       time.Time `json:"built_at"`
}

// Snapshot is a generation of the retriever as it is written to storage.
// Vectors[i] always belongs to Chunks[i].
type Snapshot struct {
	Info    SnapshotInfo
	Vectors [][]float32
	Chunks  []Chunk
}

// IndexStats summarizes the live vector index.
type IndexStats struct {
	TotalVectors int       `json:"total_vectors"`
	TotalChunks  int       `json:"total_chunks"`
	Dimension    int       `json:"embedding_dim"`
	Metric       string    `json:"metric"`
	Model        string    `json:"model"`
	BuiltAt      time.Time `json:"built_at"`
}
