package retriever

import (
	"fmt"
	"strings"

	"kbrag/internal/domain"
)

// FormatContext renders results as numbered blocks for a text generator,
// in the order given.
func FormatContext(results []domain.ScoredChunk) string {
	parts := make([]string, 0, len(results))
	for i, r := range results {
		source := r.Chunk.Metadata.String(domain.MetaSource)
		if source == "" {
			source = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, source, r.Chunk.Text))
	}
	return strings.Join(parts, "\n")
}

// Sources lists "source: section" (or just "source") for each result,
// without duplicates, in first-seen order.
func Sources(results []domain.ScoredChunk) []string {
	sources := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))

	for _, r := range results {
		source := r.Chunk.Metadata.String(domain.MetaSource)
		if source == "" {
			source = "Unknown"
		}
		if section := r.Chunk.Metadata.String(domain.MetaSection); section != "" {
			source = source + ": " + section
		}
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}
		sources = append(sources, source)
	}

	return sources
}
