package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kbrag/internal/adapter/cache"
	"kbrag/internal/adapter/retriever"
	"kbrag/internal/adapter/store"
	"kbrag/internal/domain"
	"kbrag/internal/logging"
	"kbrag/internal/metrics"
	"kbrag/internal/port"
)

// Mode is the availability state of the retrieval service.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeVector        Mode = "vector"
	ModeFallback      Mode = "fallback"
)

var knownModes = []string{string(ModeUninitialized), string(ModeVector), string(ModeFallback)}

var errNoVectorRetriever = errors.New("vector retrieval is not configured")

// CorpusSource produces the corpus used to build the index on startup.
type CorpusSource func(ctx context.Context) (domain.Corpus, error)

// QueryRequest is the retrieval contract's input.
type QueryRequest struct {
	Query          string
	TopK           int
	FilterCategory string
}

// QueryResponse is the retrieval contract's output.
type QueryResponse struct {
	Chunks  []domain.ScoredChunk
	Context string
	Sources []string
	Mode    Mode
}

// RetrieveOptions configures a RetrieveUseCase.
type RetrieveOptions struct {
	ConfigHash string
	CacheSize  int // 0 disables the query cache
	CacheTTL   time.Duration
	Dedup      *retriever.Deduplicator // nil disables near-duplicate suppression
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// RetrieveUseCase owns the retrieval mode. It starts Uninitialized, moves
// to vector or fallback in Init, and only returns to vector through an
// explicit Rebuild or Reload.
type RetrieveUseCase struct {
	vector   *retriever.VectorRetriever // nil when no embedder is configured
	fallback *retriever.FallbackRetriever
	cache    *cache.QueryCache
	opts     RetrieveOptions
	logger   *zap.Logger

	mu   sync.RWMutex
	mode Mode
}

// NewRetrieveUseCase creates a retrieve use case. vector may be nil.
func NewRetrieveUseCase(vector *retriever.VectorRetriever, fallback *retriever.FallbackRetriever, opts RetrieveOptions) *RetrieveUseCase {
	u := &RetrieveUseCase{
		vector:   vector,
		fallback: fallback,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		mode:     ModeUninitialized,
	}
	if opts.CacheSize > 0 {
		u.cache = cache.NewQueryCache(opts.CacheSize, opts.CacheTTL)
	}
	if u.opts.Metrics != nil {
		u.opts.Metrics.SetMode(string(ModeUninitialized), knownModes...)
	}
	return u
}

func (u *RetrieveUseCase) Mode() Mode {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mode
}

func (u *RetrieveUseCase) setMode(m Mode) {
	u.mu.Lock()
	prev := u.mode
	u.mode = m
	u.mu.Unlock()

	if prev != m {
		u.logger.Info("retrieval mode changed", zap.String("from", string(prev)), zap.String("to", string(m)))
	}
	if u.opts.Metrics != nil {
		u.opts.Metrics.SetMode(string(m), knownModes...)
	}
}

func (u *RetrieveUseCase) degrade(reason string, err error) Mode {
	u.logger.Warn("vector retrieval unavailable, using keyword fallback",
		zap.String("reason", reason), zap.Error(err))
	u.setMode(ModeFallback)
	return ModeFallback
}

// Init loads the persisted index, rebuilding it from source when it is
// missing, corrupt or built with another configuration. source may be
// nil. Init never fails: anything that prevents vector retrieval leaves the
// service in fallback mode.
func (u *RetrieveUseCase) Init(ctx context.Context, source CorpusSource) Mode {
	if u.vector == nil {
		return u.degrade("no embedder configured", errNoVectorRetriever)
	}

	info, err := u.vector.Load()
	if !errors.Is(err, domain.ErrNoSnapshot) {
		u.observeBuild(err, info.ChunkCount)
	}
	if err == nil {
		migration := store.CheckMigration(info, u.opts.ConfigHash)
		if !migration.NeedsRebuild {
			u.invalidate()
			u.setMode(ModeVector)
			return ModeVector
		}

		u.logger.Info("index rebuild required", zap.String("reason", migration.Reason))
		if _, err := u.rebuildFrom(ctx, source); err != nil {
			u.logger.Warn("rebuild failed, serving the loaded index", zap.Error(err))
			u.invalidate()
			u.setMode(ModeVector)
		}
		return ModeVector
	}

	if !errors.Is(err, domain.ErrNoSnapshot) {
		u.logger.Warn("persisted index unusable", zap.Error(err))
	}
	if _, err := u.rebuildFrom(ctx, source); err != nil {
		return u.degrade("index build failed", err)
	}
	return ModeVector
}

func (u *RetrieveUseCase) rebuildFrom(ctx context.Context, source CorpusSource) (domain.SnapshotInfo, error) {
	if source == nil {
		return domain.SnapshotInfo{}, errors.New("no corpus source configured")
	}
	corpus, err := source(ctx)
	if err != nil {
		return domain.SnapshotInfo{}, fmt.Errorf("load corpus: %w", err)
	}
	return u.Rebuild(ctx, corpus)
}

// Rebuild builds a new index from corpus and switches to vector mode. On
// failure the mode and the live index are unchanged.
func (u *RetrieveUseCase) Rebuild(ctx context.Context, corpus domain.Corpus) (domain.SnapshotInfo, error) {
	if u.vector == nil {
		return domain.SnapshotInfo{}, errNoVectorRetriever
	}

	info, err := u.vector.BuildIndex(ctx, corpus)
	u.observeBuild(err, info.ChunkCount)
	if err != nil {
		return domain.SnapshotInfo{}, err
	}

	u.invalidate()
	u.setMode(ModeVector)
	return info, nil
}

// Reload replaces the live index with the persisted one.
func (u *RetrieveUseCase) Reload(ctx context.Context) (domain.SnapshotInfo, error) {
	if u.vector == nil {
		return domain.SnapshotInfo{}, errNoVectorRetriever
	}
	if err := ctx.Err(); err != nil {
		return domain.SnapshotInfo{}, err
	}

	info, err := u.vector.Load()
	u.observeBuild(err, info.ChunkCount)
	if err != nil {
		return domain.SnapshotInfo{}, err
	}

	u.invalidate()
	u.setMode(ModeVector)
	return info, nil
}

// Query answers a retrieval request in the current mode. A vector query
// that fails for any reason other than bad input or cancellation is
// answered by the fallback instead.
func (u *RetrieveUseCase) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.TopK < 1 {
		return nil, fmt.Errorf("top_k must be at least 1, got %d: %w", req.TopK, domain.ErrInvalidArgument)
	}

	start := time.Now()

	if u.Mode() == ModeVector {
		var gen uint64
		if u.cache != nil {
			gen = u.cache.Generation()
			if results, ok := u.cache.Get(req.Query, req.TopK, req.FilterCategory); ok {
				u.observeQuery(ModeVector, metrics.ResultCache, start)
				return u.respond(ModeVector, results, u.vector), nil
			}
		}

		results, err := u.vector.Retrieve(ctx, req.Query, u.fetchWidth(req.TopK), req.FilterCategory)
		if err == nil {
			results = u.dedupe(results, req.TopK)
			if u.cache != nil {
				u.cache.Put(gen, req.Query, req.TopK, req.FilterCategory, results)
			}
			u.observeQuery(ModeVector, metrics.ResultOK, start)
			return u.respond(ModeVector, results, u.vector), nil
		}

		u.observeQuery(ModeVector, metrics.ResultError, start)
		if errors.Is(err, domain.ErrInvalidArgument) || ctx.Err() != nil {
			return nil, err
		}
		u.logger.Warn("vector query failed, answering from fallback", zap.Error(err))
		start = time.Now()
	}

	results, err := u.fallback.Retrieve(ctx, req.Query, u.fetchWidth(req.TopK), req.FilterCategory)
	if err != nil {
		u.observeQuery(ModeFallback, metrics.ResultError, start)
		return nil, err
	}
	results = u.dedupe(results, req.TopK)
	u.observeQuery(ModeFallback, metrics.ResultOK, start)
	return u.respond(ModeFallback, results, u.fallback), nil
}

// fetchWidth leaves room for results dropped as near duplicates.
func (u *RetrieveUseCase) fetchWidth(topK int) int {
	if u.opts.Dedup == nil {
		return topK
	}
	return topK * 2
}

func (u *RetrieveUseCase) dedupe(results []domain.ScoredChunk, topK int) []domain.ScoredChunk {
	if u.opts.Dedup == nil {
		return results
	}
	return u.opts.Dedup.Apply(results, topK)
}

func (u *RetrieveUseCase) respond(mode Mode, results []domain.ScoredChunk, r port.Retriever) *QueryResponse {
	if results == nil {
		results = []domain.ScoredChunk{}
	}
	return &QueryResponse{
		Chunks:  results,
		Context: r.FormatContext(results),
		Sources: r.Sources(results),
		Mode:    mode,
	}
}

// Stats describes the service for status endpoints.
type Stats struct {
	Mode            Mode               `json:"mode"`
	Index           *domain.IndexStats `json:"index,omitempty"` // nil outside vector mode
	FallbackEntries int                `json:"fallback_entries"`
	CachedQueries   int                `json:"cached_queries"`
	CacheHits       uint64             `json:"cache_hits"`
	CacheMisses     uint64             `json:"cache_misses"`
}

func (u *RetrieveUseCase) Stats() Stats {
	s := Stats{
		Mode:            u.Mode(),
		FallbackEntries: u.fallback.Size(),
	}
	if s.Mode == ModeVector {
		if idx, err := u.vector.Stats(); err == nil {
			s.Index = &idx
		}
	}
	if u.cache != nil {
		s.CachedQueries = u.cache.Size()
		s.CacheHits, s.CacheMisses = u.cache.Stats()
	}
	return s
}

func (u *RetrieveUseCase) invalidate() {
	if u.cache != nil {
		u.cache.Invalidate()
	}
}

func (u *RetrieveUseCase) observeQuery(mode Mode, result string, start time.Time) {
	if u.opts.Metrics != nil {
		u.opts.Metrics.ObserveQuery(string(mode), result, time.Since(start))
	}
}

func (u *RetrieveUseCase) observeBuild(err error, chunks int) {
	if u.opts.Metrics == nil {
		return
	}
	if err != nil {
		u.opts.Metrics.ObserveBuild(metrics.ResultError, 0)
		return
	}
	u.opts.Metrics.ObserveBuild(metrics.ResultOK, chunks)
}
