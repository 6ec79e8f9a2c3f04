package chunker

import (
	"strings"
	"unicode"

	"kbrag/internal/domain"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// TextChunker packs sentences into chunks of at most size characters,
// carrying the trailing overlap characters of each chunk into the next.
// The carried overlap is shortened when the next sentence is longer than
// size-overlap-1, so no chunk exceeds size+overlap.
type TextChunker struct {
	size    int
	overlap int
}

// NewTextChunker creates a TextChunker. Sizes are in characters (runes).
// A non-positive size falls back to the default and the overlap is kept
// within [0, size).
func NewTextChunker(size, overlap int) *TextChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &TextChunker{size: size, overlap: overlap}
}

func (c *TextChunker) Size() int    { return c.size }
func (c *TextChunker) Overlap() int { return c.overlap }

// ChunkText splits text into chunks that each carry a copy of metadata.
func (c *TextChunker) ChunkText(text string, metadata domain.Metadata) []domain.Chunk {
	pieces := c.pack(splitSentences(text))

	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, domain.Chunk{
			Text:     p,
			Metadata: metadata.Clone(),
		})
	}
	return chunks
}

func (c *TextChunker) pack(sentences []string) []string {
	var out []string
	var buf []rune

	flush := func() {
		if strings.TrimSpace(string(buf)) != "" {
			out = append(out, string(buf))
		}
		buf = nil
	}

	for _, sentence := range sentences {
		s := []rune(sentence)

		if len(s) > c.size {
			flush()
			out = append(out, c.splitWords(sentence)...)
			continue
		}

		if len(buf) == 0 {
			buf = s
			continue
		}

		if len(buf)+1+len(s) <= c.size {
			buf = append(append(buf, ' '), s...)
			continue
		}

		emitted := buf
		flush()

		tail := c.overlap
		if tail > len(emitted) {
			tail = len(emitted)
		}
		// overlap + separator + sentence must stay within size + overlap
		if limit := c.size + c.overlap - 1 - len(s); tail > limit {
			tail = max(limit, 0)
		}

		if tail == 0 {
			buf = s
			continue
		}
		next := make([]rune, 0, tail+1+len(s))
		next = append(next, emitted[len(emitted)-tail:]...)
		next = append(next, ' ')
		buf = append(next, s...)
	}
	flush()

	return out
}

// splitWords packs the words of an oversized sentence without overlap.
// Words longer than size are cut into size-character pieces.
func (c *TextChunker) splitWords(sentence string) []string {
	var out []string
	var buf []rune

	for _, word := range strings.Fields(sentence) {
		w := []rune(word)

		for len(w) > c.size {
			if len(buf) > 0 {
				out = append(out, string(buf))
				buf = nil
			}
			out = append(out, string(w[:c.size]))
			w = w[c.size:]
		}
		if len(w) == 0 {
			continue
		}

		switch {
		case len(buf) == 0:
			buf = w
		case len(buf)+1+len(w) <= c.size:
			buf = append(append(buf, ' '), w...)
		default:
			out = append(out, string(buf))
			buf = w
		}
	}
	if len(buf) > 0 {
		out = append(out, string(buf))
	}

	return out
}

// splitSentences breaks text after '.', '!' or '?' followed by whitespace.
// Sentences are trimmed and empty ones dropped.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}
