package port

import "kbrag/internal/domain"

// Chunker turns a document collection into ordered retrieval units.
type Chunker interface {
	ChunkCorpus(corpus domain.Corpus) []domain.Chunk
}
