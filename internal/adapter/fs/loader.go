package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"kbrag/internal/domain"
)

// LoadResult is the corpus assembled from a data directory.
type LoadResult struct {
	Corpus   domain.Corpus
	Files    []string // files that contributed at least one record
	Warnings []string
}

// Loader reads knowledge-base collections from JSON files. A file may hold
// any of the top-level keys "faq", "regulations", "dialogs" and
// "documents"; files with none of them are reported as warnings.
type Loader struct {
	walker *Walker
}

func NewLoader(walker *Walker) *Loader {
	return &Loader{walker: walker}
}

// LoadDir walks root and merges every matching file into one corpus.
// Undecodable files are skipped with a warning.
func (l *Loader) LoadDir(root string) (*LoadResult, error) {
	files, err := l.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk data directory: %w", err)
	}

	result := &LoadResult{}
	for _, f := range files {
		corpus, err := LoadFile(f.Path)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", f.RelPath, err))
			continue
		}
		if corpus.Size() == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: no knowledge-base records", f.RelPath))
			continue
		}
		result.Corpus.Merge(corpus)
		result.Files = append(result.Files, f.RelPath)
	}

	return result, nil
}

// LoadFile decodes a single collection file.
func LoadFile(path string) (domain.Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Corpus{}, err
	}
	return DecodeCorpus(data)
}

// DecodeCorpus decodes the JSON collection shape. A byte order mark is
// tolerated.
func DecodeCorpus(data []byte) (domain.Corpus, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var corpus domain.Corpus
	if err := json.Unmarshal(data, &corpus); err != nil {
		return domain.Corpus{}, fmt.Errorf("decode collection: %w", err)
	}
	return corpus, nil
}
