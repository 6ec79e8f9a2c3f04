package retriever

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"kbrag/internal/adapter/analyzer"
	"kbrag/internal/domain"
	"kbrag/internal/port"
)

const DefaultCategoryBoost = 5

// DefaultKnowledgeBase is the static policy set served when no vector
// index is available.
func DefaultKnowledgeBase() []domain.Chunk {
	return []domain.Chunk{
		{
			Text: "Masz 14 dni na zwrot produktu od daty otrzymania. Produkt musi być w oryginalnym opakowaniu, nieużywany. Koszt zwrotu pokrywa klient, chyba że produkt jest wadliwy.",
			Metadata: domain.Metadata{
				domain.MetaSource:   "Regulamin zwrotów",
				domain.MetaCategory: "zwrot",
			},
		},
		{
			Text: "Oferujemy następujące opcje dostawy: kurier (1-2 dni robocze, koszt 15 zł), Paczkomat InPost (1-2 dni robocze, koszt 12 zł), odbiór osobisty (następny dzień roboczy, darmowy). Darmowa dostawa przy zamówieniach powyżej 200 zł.",
			Metadata: domain.Metadata{
				domain.MetaSource:   "Polityka wysyłki",
				domain.MetaCategory: "dostawa",
			},
		},
		{
			Text: "Akceptujemy płatności: kartą płatniczą (Visa, Mastercard), przelewem bankowym, BLIK, płatności odroczone (PayU Pay Later). Płatność można dokonać podczas składania zamówienia.",
			Metadata: domain.Metadata{
				domain.MetaSource:   "Metody płatności",
				domain.MetaCategory: "płatność",
			},
		},
		{
			Text: "Status zamówienia można sprawdzić w zakładce 'Moje zamówienia' po zalogowaniu. Otrzymasz również powiadomienie email o każdej zmianie statusu. Po wysłaniu otrzymasz numer do śledzenia przesyłki.",
			Metadata: domain.Metadata{
				domain.MetaSource:   "FAQ: Status zamówienia",
				domain.MetaCategory: "status",
			},
		},
		{
			Text: "Dostępność produktów jest aktualizowana na bieżąco na stronie produktu. Jeśli produkt jest niedostępny, możesz zapisać się na powiadomienie o ponownej dostępności.",
			Metadata: domain.Metadata{
				domain.MetaSource:   "FAQ: Dostępność produktów",
				domain.MetaCategory: "produkt",
			},
		},
	}
}

// LoadKnowledgeFile reads a YAML list of {text, metadata} entries.
func LoadKnowledgeFile(path string) ([]domain.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []domain.Document
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse knowledge file %s: %w", path, err)
	}

	chunks := make([]domain.Chunk, 0, len(entries))
	for i, e := range entries {
		if e.Text == "" {
			return nil, fmt.Errorf("knowledge file %s: entry %d has no text: %w", path, i, domain.ErrInvalidArgument)
		}
		md := e.Metadata.Clone()
		if md == nil {
			md = domain.Metadata{}
		}
		if md.String(domain.MetaSource) == "" {
			md[domain.MetaSource] = "Knowledge base"
		}
		chunks = append(chunks, domain.Chunk{Text: e.Text, Metadata: md})
	}
	return chunks, nil
}

type keywordEntry struct {
	chunk  domain.Chunk
	tokens map[string]struct{}
}

// FallbackRetriever scores a small static knowledge base by token overlap.
// It never needs an embedder or an index.
type FallbackRetriever struct {
	entries   []keywordEntry
	tokenizer port.Tokenizer
	boost     float64
}

// NewFallbackRetriever indexes entries. A nil tokenizer means lower-cased
// whitespace tokens; a zero boost means DefaultCategoryBoost.
func NewFallbackRetriever(entries []domain.Chunk, tokenizer port.Tokenizer, boost float64) *FallbackRetriever {
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer(analyzer.ModeWhitespace)
	}
	if boost == 0 {
		boost = DefaultCategoryBoost
	}

	r := &FallbackRetriever{tokenizer: tokenizer, boost: boost}
	for _, c := range entries {
		r.entries = append(r.entries, keywordEntry{chunk: c, tokens: tokenSet(tokenizer, c.Text)})
	}
	return r
}

// Size returns the number of knowledge-base entries.
func (r *FallbackRetriever) Size() int {
	return len(r.entries)
}

// Retrieve scores every entry by the number of distinct query tokens it
// contains, plus the boost when its category equals filterCategory.
func (r *FallbackRetriever) Retrieve(ctx context.Context, query string, topK int, filterCategory string) ([]domain.ScoredChunk, error) {
	if topK < 1 {
		return nil, fmt.Errorf("top_k must be at least 1, got %d: %w", topK, domain.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := tokenSet(r.tokenizer, query)

	results := make([]domain.ScoredChunk, 0, len(r.entries))
	for _, e := range r.entries {
		var score float64
		for tok := range queryTokens {
			if _, ok := e.tokens[tok]; ok {
				score++
			}
		}
		if filterCategory != "" && e.chunk.Metadata.String(domain.MetaCategory) == filterCategory {
			score += r.boost
		}
		results = append(results, domain.ScoredChunk{
			Chunk: domain.Chunk{Text: e.chunk.Text, Metadata: e.chunk.Metadata.Clone()},
			Score: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (r *FallbackRetriever) FormatContext(results []domain.ScoredChunk) string {
	return FormatContext(results)
}

func (r *FallbackRetriever) Sources(results []domain.ScoredChunk) []string {
	return Sources(results)
}

func tokenSet(t port.Tokenizer, text string) map[string]struct{} {
	tokens := t.Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
