package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kbrag/internal/adapter/index"
	"kbrag/internal/domain"
	"kbrag/internal/logging"
	"kbrag/internal/port"
)

const DefaultOverFetch = 3

// VectorOptions configures a VectorRetriever.
type VectorOptions struct {
	Metric         string
	OverFetch      int  // search width multiplier when a category filter is set
	AdaptiveFilter bool // widen the search until topK filtered hits or exhaustion
	ConfigHash     string
	Logger         *zap.Logger
}

// generation is one immutable (index, chunks) pair. Position i of index
// is the vector of chunks[i].
type generation struct {
	index  port.VectorIndex
	chunks []domain.Chunk
	info   domain.SnapshotInfo
}

// VectorRetriever answers queries by nearest-neighbour search over
// embedded chunks. Queries read the current generation under a read lock;
// builds and loads prepare a new generation and swap it in under the write
// lock.
type VectorRetriever struct {
	chunker  port.Chunker
	embedder port.Embedder
	store    port.SnapshotStore
	opts     VectorOptions
	logger   *zap.Logger
	now      func() time.Time

	buildMu sync.Mutex
	mu      sync.RWMutex
	gen     *generation
}

func NewVectorRetriever(chunker port.Chunker, embedder port.Embedder, store port.SnapshotStore, opts VectorOptions) *VectorRetriever {
	if opts.Metric == "" {
		opts.Metric = index.MetricL2
	}
	if opts.OverFetch < 1 {
		opts.OverFetch = DefaultOverFetch
	}
	return &VectorRetriever{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		now:      time.Now,
	}
}

func (r *VectorRetriever) current() *generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

func (r *VectorRetriever) swap(g *generation) {
	r.mu.Lock()
	r.gen = g
	r.mu.Unlock()
}

// Built reports whether a generation is loaded.
func (r *VectorRetriever) Built() bool {
	return r.current() != nil
}

// BuildIndex chunks and embeds the corpus, persists the result and makes
// it the live generation. On any error the live generation and the
// persisted snapshot are left as they were.
func (r *VectorRetriever) BuildIndex(ctx context.Context, corpus domain.Corpus) (domain.SnapshotInfo, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	chunks := r.chunker.ChunkCorpus(corpus)
	if len(chunks) == 0 {
		return domain.SnapshotInfo{}, domain.ErrEmptyCorpus
	}
	if r.embedder == nil {
		return domain.SnapshotInfo{}, errors.New("no embedder configured")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	start := r.now()
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return domain.SnapshotInfo{}, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return domain.SnapshotInfo{}, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if err := ctx.Err(); err != nil {
		return domain.SnapshotInfo{}, err
	}

	idx, err := index.NewFlatIndex(r.opts.Metric)
	if err != nil {
		return domain.SnapshotInfo{}, err
	}
	if err := idx.Add(vectors); err != nil {
		return domain.SnapshotInfo{}, fmt.Errorf("build index: %w", err)
	}

	info := domain.SnapshotInfo{
		Metric:      idx.Metric(),
		Dimension:   idx.Dimension(),
		VectorCount: idx.Len(),
		ChunkCount:  len(chunks),
		ChunkDigest: domain.ChunkDigest(chunks),
		Model:       r.embedder.ModelName(),
		ConfigHash:  r.opts.ConfigHash,
		BuiltAt:     r.now().UTC(),
	}

	if r.store != nil {
		if err := r.store.Save(domain.Snapshot{Info: info, Vectors: idx.Vectors(), Chunks: chunks}); err != nil {
			return domain.SnapshotInfo{}, fmt.Errorf("persist index: %w", err)
		}
	}

	r.swap(&generation{index: idx, chunks: chunks, info: info})

	r.logger.Info("index built",
		zap.Int("chunks", len(chunks)),
		zap.Int("dimension", info.Dimension),
		zap.String("metric", info.Metric),
		zap.String("model", info.Model),
		zap.Duration("took", r.now().Sub(start)))

	return info, nil
}

// Retrieve returns at most topK chunks ordered by ascending distance.
// A non-empty filterCategory keeps only chunks whose category contains it,
// case-insensitively. Scores are raw distances.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int, filterCategory string) ([]domain.ScoredChunk, error) {
	if topK < 1 {
		return nil, fmt.Errorf("top_k must be at least 1, got %d: %w", topK, domain.ErrInvalidArgument)
	}

	gen := r.current()
	if gen == nil {
		return nil, domain.ErrIndexNotBuilt
	}
	if r.embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}

	filter := strings.ToLower(filterCategory)
	width := topK
	if filter != "" {
		width = topK * r.opts.OverFetch
	}

	results := make([]domain.ScoredChunk, 0, topK)
	seen := 0
	for {
		neighbors, err := gen.index.Search(vecs[0], width)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}

		for _, n := range neighbors[seen:] {
			chunk := gen.chunks[n.Position]
			if filter != "" && !strings.Contains(strings.ToLower(chunk.Metadata.String(domain.MetaCategory)), filter) {
				continue
			}
			results = append(results, domain.ScoredChunk{
				Chunk: domain.Chunk{Text: chunk.Text, Metadata: chunk.Metadata.Clone()},
				Score: n.Distance,
			})
			if len(results) == topK {
				return results, nil
			}
		}
		seen = len(neighbors)

		if filter == "" || !r.opts.AdaptiveFilter || seen >= gen.index.Len() {
			return results, nil
		}
		width *= 2
	}
}

func (r *VectorRetriever) FormatContext(results []domain.ScoredChunk) string {
	return FormatContext(results)
}

func (r *VectorRetriever) Sources(results []domain.ScoredChunk) []string {
	return Sources(results)
}

// Save persists the live generation. It is serialized with builds so the
// stored pair always matches a generation that was live.
func (r *VectorRetriever) Save() error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	gen := r.current()
	if gen == nil {
		return domain.ErrIndexNotBuilt
	}
	if r.store == nil {
		return errors.New("no snapshot store configured")
	}
	return r.store.Save(domain.Snapshot{Info: gen.info, Vectors: gen.index.Vectors(), Chunks: gen.chunks})
}

// Load replaces the live generation with the persisted snapshot. A
// failed load keeps the current generation.
func (r *VectorRetriever) Load() (domain.SnapshotInfo, error) {
	if r.store == nil {
		return domain.SnapshotInfo{}, domain.ErrNoSnapshot
	}

	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	snap, err := r.store.Load()
	if err != nil {
		return domain.SnapshotInfo{}, err
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return domain.SnapshotInfo{}, fmt.Errorf("%d vectors for %d chunks: %w", len(snap.Vectors), len(snap.Chunks), domain.ErrCorruptState)
	}

	idx, err := index.NewFlatIndex(snap.Info.Metric)
	if err != nil {
		return domain.SnapshotInfo{}, fmt.Errorf("%v: %w", err, domain.ErrCorruptState)
	}
	if err := idx.Add(snap.Vectors); err != nil {
		return domain.SnapshotInfo{}, fmt.Errorf("%v: %w", err, domain.ErrCorruptState)
	}
	if r.embedder != nil {
		if dim := r.embedder.Dimension(); dim > 0 && idx.Len() > 0 && dim != idx.Dimension() {
			return domain.SnapshotInfo{}, fmt.Errorf("index has dimension %d, embedder %s produces %d: %w",
				idx.Dimension(), r.embedder.ModelName(), dim, domain.ErrDimensionMismatch)
		}
	}

	info := snap.Info
	info.Metric = idx.Metric()
	info.Dimension = idx.Dimension()
	info.VectorCount = idx.Len()
	info.ChunkCount = len(snap.Chunks)

	r.swap(&generation{index: idx, chunks: snap.Chunks, info: info})

	r.logger.Info("index loaded",
		zap.Int("vectors", info.VectorCount),
		zap.String("model", info.Model),
		zap.Time("built_at", info.BuiltAt))

	return info, nil
}

// Info returns the metadata of the live generation.
func (r *VectorRetriever) Info() (domain.SnapshotInfo, error) {
	gen := r.current()
	if gen == nil {
		return domain.SnapshotInfo{}, domain.ErrIndexNotBuilt
	}
	return gen.info, nil
}

func (r *VectorRetriever) Stats() (domain.IndexStats, error) {
	gen := r.current()
	if gen == nil {
		return domain.IndexStats{}, domain.ErrIndexNotBuilt
	}
	return domain.IndexStats{
		TotalVectors: gen.index.Len(),
		TotalChunks:  len(gen.chunks),
		Dimension:    gen.index.Dimension(),
		Metric:       gen.index.Metric(),
		Model:        gen.info.Model,
		BuiltAt:      gen.info.BuiltAt,
	}, nil
}
