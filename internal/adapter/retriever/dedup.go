package retriever

import (
	"kbrag/internal/adapter/analyzer"
	"kbrag/internal/domain"
	"kbrag/internal/port"
)

// Deduplicator drops results whose token-set Jaccard similarity to a
// better-ranked kept result exceeds the threshold. Order is preserved.
type Deduplicator struct {
	tokenizer port.Tokenizer
	threshold float64
}

// NewDeduplicator returns nil when threshold is not in (0, 1), which
// disables deduplication.
func NewDeduplicator(tokenizer port.Tokenizer, threshold float64) *Deduplicator {
	if threshold <= 0 || threshold >= 1 {
		return nil
	}
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer(analyzer.ModeWords)
	}
	return &Deduplicator{tokenizer: tokenizer, threshold: threshold}
}

// Apply returns at most limit results from results, skipping near
// duplicates. A limit below 1 means no limit.
func (d *Deduplicator) Apply(results []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	if limit < 1 || limit > len(results) {
		limit = len(results)
	}

	kept := make([]domain.ScoredChunk, 0, limit)
	keptTokens := make([]map[string]struct{}, 0, limit)

	for _, r := range results {
		if len(kept) == limit {
			break
		}
		tokens := tokenSet(d.tokenizer, r.Chunk.Text)

		duplicate := false
		for _, other := range keptTokens {
			if jaccard(tokens, other) > d.threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		kept = append(kept, r)
		keptTokens = append(keptTokens, tokens)
	}

	return kept
}

func jaccard(a, b map[string]struct{}) float64 {
	// Texts without indexable tokens are never treated as duplicates.
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
