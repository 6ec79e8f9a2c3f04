package embedding

import (
	"context"
	"fmt"

	"kbrag/internal/port"
)

// ProgressFunc is called after each batch with the number of texts embedded so far.
type ProgressFunc func(done, total int)

// BatchEmbedder splits large inputs into fixed-size batches and reports
// progress between them.
type BatchEmbedder struct {
	next       port.Embedder
	batchSize  int
	onProgress ProgressFunc
}

func NewBatchEmbedder(next port.Embedder, batchSize int, onProgress ProgressFunc) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &BatchEmbedder{next: next, batchSize: batchSize, onProgress: onProgress}
}

func (b *BatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+b.batchSize, len(texts))

		vecs, err := b.next.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		if len(vecs) != end-i {
			return nil, fmt.Errorf("batch %d-%d: embedder returned %d vectors for %d texts", i, end, len(vecs), end-i)
		}
		out = append(out, vecs...)

		if b.onProgress != nil {
			b.onProgress(end, len(texts))
		}
	}

	return out, nil
}

func (b *BatchEmbedder) Dimension() int {
	return b.next.Dimension()
}

func (b *BatchEmbedder) ModelName() string {
	return b.next.ModelName()
}
