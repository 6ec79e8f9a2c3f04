package app

import (
	"fmt"

	"go.uber.org/zap"

	"kbrag/config"
	"kbrag/internal/adapter/analyzer"
	"kbrag/internal/adapter/chunker"
	"kbrag/internal/adapter/embedding"
	"kbrag/internal/adapter/fs"
	"kbrag/internal/adapter/index"
	"kbrag/internal/adapter/memstore"
	"kbrag/internal/adapter/retriever"
	"kbrag/internal/adapter/store"
	"kbrag/internal/logging"
	"kbrag/internal/metrics"
	"kbrag/internal/port"
	"kbrag/internal/usecase"
)

// App is the wired retrieval service.
type App struct {
	Config   *config.Config
	Retrieve *usecase.RetrieveUseCase
	Index    *usecase.IndexUseCase
	Metrics  *metrics.Metrics
	DataDir  string
	IndexDir string // empty when the index is kept in memory

	// EmbedderErr is why no embedder could be built. The service then
	// runs on the keyword fallback only.
	EmbedderErr error
}

// Options controls how an App is built.
type Options struct {
	RootDir  string // anchor for relative paths in the config
	Progress embedding.ProgressFunc
	Logger   *zap.Logger
}

// New wires every component from cfg. It fails only on configuration
// errors that also break the fallback path.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)

	if cfg.Index.Metric != "" && !index.ValidMetric(cfg.Index.Metric) {
		return nil, fmt.Errorf("unknown index metric: %s", cfg.Index.Metric)
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		DataDir: config.ResolvePath(opts.RootDir, cfg.Data.Dir),
	}

	kb := retriever.DefaultKnowledgeBase()
	if cfg.Fallback.KnowledgeFile != "" {
		loaded, err := retriever.LoadKnowledgeFile(config.ResolvePath(opts.RootDir, cfg.Fallback.KnowledgeFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback knowledge base: %w", err)
		}
		kb = loaded
	}
	fallback := retriever.NewFallbackRetriever(kb, analyzer.NewTokenizer(cfg.Fallback.Tokenizer), cfg.Fallback.CategoryBoost)

	var vector *retriever.VectorRetriever
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		a.EmbedderErr = err
		logger.Warn("embedder unavailable", zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
	} else {
		if opts.Progress != nil {
			embedder = embedding.NewBatchEmbedder(embedder, cfg.Embedding.BatchSize, opts.Progress)
		}

		var snapshots port.SnapshotStore
		if cfg.Index.Dir == "" {
			snapshots = memstore.NewMemoryStore()
		} else {
			a.IndexDir = config.ResolvePath(opts.RootDir, cfg.Index.Dir)
			snapshots = store.NewFileStore(a.IndexDir)
		}

		vector = retriever.NewVectorRetriever(
			chunker.NewCompositeChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap),
			embedder,
			snapshots,
			retriever.VectorOptions{
				Metric:         cfg.Index.Metric,
				OverFetch:      cfg.Retrieve.OverFetch,
				AdaptiveFilter: cfg.Retrieve.AdaptiveFilter,
				ConfigHash:     store.ComputeConfigHash(cfg),
				Logger:         logger,
			},
		)
	}

	a.Retrieve = usecase.NewRetrieveUseCase(vector, fallback, usecase.RetrieveOptions{
		ConfigHash: store.ComputeConfigHash(cfg),
		CacheSize:  cfg.Retrieve.CacheSize,
		CacheTTL:   cfg.Retrieve.CacheTTL,
		Dedup:      retriever.NewDeduplicator(analyzer.NewTokenizer(analyzer.ModeWords), cfg.Retrieve.DedupJaccard),
		Metrics:    a.Metrics,
		Logger:     logger,
	})

	loader := fs.NewLoader(fs.NewWalker(cfg.Data.Includes, cfg.Data.Excludes))
	a.Index = usecase.NewIndexUseCase(loader, a.Retrieve, logger)

	return a, nil
}
