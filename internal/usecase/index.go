package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kbrag/internal/adapter/fs"
	"kbrag/internal/domain"
	"kbrag/internal/logging"
)

// IndexUseCase rebuilds the vector index from the collections in a data
// directory.
type IndexUseCase struct {
	loader   *fs.Loader
	retrieve *RetrieveUseCase
	logger   *zap.Logger
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(loader *fs.Loader, retrieve *RetrieveUseCase, logger *zap.Logger) *IndexUseCase {
	return &IndexUseCase{
		loader:   loader,
		retrieve: retrieve,
		logger:   logging.OrNop(logger),
	}
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	Files       int
	FAQ         int
	Regulations int
	Dialogs     int
	Documents   int
	Chunks      int
	Warnings    []string
	Info        domain.SnapshotInfo
	Took        time.Duration
}

// Index loads every collection under dataDir and rebuilds the index from
// them. Undecodable files become warnings; a corpus that yields no chunks
// fails with domain.ErrEmptyCorpus.
func (u *IndexUseCase) Index(ctx context.Context, dataDir string) (*IndexResult, error) {
	start := time.Now()

	loaded, err := u.loader.LoadDir(dataDir)
	if err != nil {
		return nil, err
	}
	for _, w := range loaded.Warnings {
		u.logger.Warn("skipped data file", zap.String("detail", w))
	}

	info, err := u.retrieve.Rebuild(ctx, loaded.Corpus)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	c := loaded.Corpus
	return &IndexResult{
		Files:       len(loaded.Files),
		FAQ:         len(c.FAQ),
		Regulations: len(c.Regulations),
		Dialogs:     len(c.Dialogs),
		Documents:   len(c.Documents),
		Chunks:      info.ChunkCount,
		Warnings:    loaded.Warnings,
		Info:        info,
		Took:        time.Since(start),
	}, nil
}

// Source returns a CorpusSource that reads dataDir, for RetrieveUseCase.Init.
func (u *IndexUseCase) Source(dataDir string) CorpusSource {
	return func(ctx context.Context) (domain.Corpus, error) {
		loaded, err := u.loader.LoadDir(dataDir)
		if err != nil {
			return domain.Corpus{}, err
		}
		for _, w := range loaded.Warnings {
			u.logger.Warn("skipped data file", zap.String("detail", w))
		}
		return loaded.Corpus, nil
	}
}
