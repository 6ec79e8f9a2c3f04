package analyzer

import (
	"strings"
	"unicode"
)

const (
	// ModeWhitespace lower-cases and splits on whitespace, keeping punctuation attached.
	ModeWhitespace = "whitespace"
	// ModeWords splits on unicode letter/digit runs and drops stopwords.
	ModeWords = "words"
)

// Tokenizer splits text into lower-cased tokens for keyword scoring.
type Tokenizer struct {
	mode      string
	stopwords map[string]struct{}
}

// NewTokenizer creates a new Tokenizer. Unknown modes fall back to whitespace.
func NewTokenizer(mode string) *Tokenizer {
	if mode != ModeWords {
		mode = ModeWhitespace
	}
	return &Tokenizer{
		mode:      mode,
		stopwords: defaultStopwords(),
	}
}

// Mode returns the active tokenization mode.
func (t *Tokenizer) Mode() string {
	return t.mode
}

// Tokenize splits text into tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	if t.mode == ModeWhitespace {
		return strings.Fields(strings.ToLower(text))
	}

	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// defaultStopwords returns common Polish function words seen in customer queries.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"i", "w", "z", "na", "do", "od", "po", "za", "o", "u", "a",
		"się", "jest", "są", "jak", "czy", "co", "to", "że", "nie",
		"mogę", "mój", "moje", "moja", "mam", "jaki", "jakie", "jaka",
		"ile", "gdzie", "kiedy", "dla", "przy", "lub", "oraz", "już",
		"by", "być", "ten", "ta", "te", "tym", "tego", "który", "która",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
