package port

import (
	"context"

	"kbrag/internal/domain"
)

// Retriever defines the query-side contract shared by the vector and fallback retrievers.
type Retriever interface {
	// Retrieve returns at most topK chunks for the query. An empty
	// filterCategory disables category filtering.
	Retrieve(ctx context.Context, query string, topK int, filterCategory string) ([]domain.ScoredChunk, error)

	// FormatContext renders results as a numbered context block for a generator.
	FormatContext(results []domain.ScoredChunk) string

	// Sources lists deduplicated human-readable source identifiers.
	Sources(results []domain.ScoredChunk) []string
}
