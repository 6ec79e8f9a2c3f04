package chunker

import (
	"fmt"

	"kbrag/internal/domain"
)

const (
	SourceFAQ         = "FAQ"
	SourceRegulations = "Regulations"
	SourceDialogs     = "Support Dialogs"
	SourceDocuments   = "Documents"

	TypeQAPair     = "qa_pair"
	TypeRegulation = "regulation"
	TypeDialog     = "dialog"

	DefaultCategory = "general"
)

// CompositeChunker dispatches each document collection to its adapter and
// concatenates the results: FAQ, regulations, dialogs, then documents.
type CompositeChunker struct {
	text *TextChunker
}

func NewCompositeChunker(size, overlap int) *CompositeChunker {
	return &CompositeChunker{text: NewTextChunker(size, overlap)}
}

func (c *CompositeChunker) ChunkCorpus(corpus domain.Corpus) []domain.Chunk {
	var chunks []domain.Chunk
	chunks = append(chunks, c.ChunkFAQ(corpus.FAQ)...)
	chunks = append(chunks, c.ChunkRegulations(corpus.Regulations)...)
	chunks = append(chunks, c.ChunkDialogs(corpus.Dialogs)...)
	chunks = append(chunks, c.ChunkDocuments(corpus.Documents)...)
	return chunks
}

// ChunkFAQ emits one chunk per question/answer pair.
func (c *CompositeChunker) ChunkFAQ(entries []domain.FAQEntry) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(entries))
	for _, e := range entries {
		chunks = append(chunks, domain.Chunk{
			Text: fmt.Sprintf("Pytanie: %s\n\nOdpowiedź: %s", e.Question, e.Answer),
			Metadata: domain.Metadata{
				domain.MetaSource:   SourceFAQ,
				domain.MetaCategory: orDefault(e.Category, DefaultCategory),
				domain.MetaType:     TypeQAPair,
			},
		})
	}
	return chunks
}

// ChunkRegulations packs each section's content and prefixes every chunk
// with the section title.
func (c *CompositeChunker) ChunkRegulations(sections []domain.RegulationSection) []domain.Chunk {
	var chunks []domain.Chunk
	for _, s := range sections {
		packed := c.text.ChunkText(s.Content, domain.Metadata{
			domain.MetaSource:  SourceRegulations,
			domain.MetaSection: s.Section,
			domain.MetaType:    TypeRegulation,
		})
		for i := range packed {
			packed[i].Text = fmt.Sprintf("[%s]\n\n%s", s.Section, packed[i].Text)
		}
		chunks = append(chunks, packed...)
	}
	return chunks
}

// ChunkDialogs emits one chunk per customer/assistant exchange.
func (c *CompositeChunker) ChunkDialogs(dialogs []domain.Dialog) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(dialogs))
	for _, d := range dialogs {
		chunks = append(chunks, domain.Chunk{
			Text: fmt.Sprintf("Klient: %s\n\nAsystent: %s", d.CustomerQuery, d.AIResponse),
			Metadata: domain.Metadata{
				domain.MetaSource:     SourceDialogs,
				domain.MetaCategory:   orDefault(d.Category, DefaultCategory),
				domain.MetaConfidence: d.Confidence,
				domain.MetaType:       TypeDialog,
			},
		})
	}
	return chunks
}

// ChunkDocuments packs free-text documents, defaulting the source label.
func (c *CompositeChunker) ChunkDocuments(docs []domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for _, d := range docs {
		md := d.Metadata.Clone()
		if md == nil {
			md = domain.Metadata{}
		}
		if md.String(domain.MetaSource) == "" {
			md[domain.MetaSource] = SourceDocuments
		}
		chunks = append(chunks, c.text.ChunkText(d.Text, md)...)
	}
	return chunks
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
