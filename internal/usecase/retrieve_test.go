package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbrag/internal/adapter/chunker"
	"kbrag/internal/adapter/embedding"
	"kbrag/internal/adapter/memstore"
	"kbrag/internal/adapter/retriever"
	"kbrag/internal/domain"
	"kbrag/internal/metrics"
	"kbrag/internal/port"
)

// switchEmbedder delegates to a hash embedder until broken is set. A
// pending pause holds the next Embed call until it is released.
type switchEmbedder struct {
	*embedding.HashEmbedder
	broken atomic.Bool
	pause  atomic.Pointer[embedPause]
}

type embedPause struct {
	entered chan struct{}
	release chan struct{}
}

func (s *switchEmbedder) pauseNext() *embedPause {
	p := &embedPause{entered: make(chan struct{}), release: make(chan struct{})}
	s.pause.Store(p)
	return p
}

func (s *switchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p := s.pause.Swap(nil); p != nil {
		close(p.entered)
		<-p.release
	}
	if s.broken.Load() {
		return nil, errors.New("provider down")
	}
	return s.HashEmbedder.Embed(ctx, texts)
}

func faqCorpus() domain.Corpus {
	return domain.Corpus{FAQ: []domain.FAQEntry{
		{Question: "Jak zwrócić produkt?", Answer: "Zwrot możliwy w 14 dni.", Category: "zwrot"},
		{Question: "Ile kosztuje dostawa?", Answer: "Kurier kosztuje 15 zł.", Category: "dostawa"},
		{Question: "Jak zapłacić?", Answer: "Kartą lub BLIK.", Category: "płatność"},
	}}
}

func staticSource(c domain.Corpus) CorpusSource {
	return func(context.Context) (domain.Corpus, error) { return c, nil }
}

type fixture struct {
	uc      *RetrieveUseCase
	store   *memstore.MemoryStore
	emb     *switchEmbedder
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, configHash string) *fixture {
	t.Helper()
	f := &fixture{
		store:   memstore.NewMemoryStore(),
		emb:     &switchEmbedder{HashEmbedder: embedding.NewHashEmbedder(64)},
		metrics: metrics.New(),
	}
	f.uc = f.build(configHash, f.store)
	return f
}

func (f *fixture) build(configHash string, st port.SnapshotStore) *RetrieveUseCase {
	vector := retriever.NewVectorRetriever(chunker.NewCompositeChunker(500, 50), f.emb, st,
		retriever.VectorOptions{ConfigHash: configHash, AdaptiveFilter: true})
	fallback := retriever.NewFallbackRetriever(retriever.DefaultKnowledgeBase(), nil, 0)
	return NewRetrieveUseCase(vector, fallback, RetrieveOptions{
		ConfigHash: configHash,
		CacheSize:  16,
		CacheTTL:   time.Minute,
		Metrics:    f.metrics,
	})
}

func TestInitBuildsFromSourceWhenNoSnapshot(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()

	assert.Equal(t, ModeUninitialized, f.uc.Mode())
	assert.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))
	assert.Equal(t, 1, f.store.Saves())

	resp, err := f.uc.Query(ctx, QueryRequest{Query: "Jak zwrócić produkt?", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Chunks, 1)
	assert.Equal(t, ModeVector, resp.Mode)
	assert.Equal(t, "zwrot", resp.Chunks[0].Chunk.Metadata.String(domain.MetaCategory))
	assert.Contains(t, resp.Context, "[Source 1: FAQ]")
	assert.Equal(t, []string{"FAQ"}, resp.Sources)
}

func TestInitWithoutSnapshotOrSourceFallsBack(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()

	assert.Equal(t, ModeFallback, f.uc.Init(ctx, nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Mode.WithLabelValues(string(ModeFallback))))

	resp, err := f.uc.Query(ctx, QueryRequest{Query: "Jakie są koszty dostawy?", TopK: 3, FilterCategory: "dostawa"})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, resp.Mode)
	assert.Equal(t, "Polityka wysyłki", resp.Chunks[0].Chunk.Metadata.String(domain.MetaSource))
}

func TestInitWithoutEmbedderFallsBack(t *testing.T) {
	fallback := retriever.NewFallbackRetriever(retriever.DefaultKnowledgeBase(), nil, 0)
	uc := NewRetrieveUseCase(nil, fallback, RetrieveOptions{})

	assert.Equal(t, ModeFallback, uc.Init(context.Background(), staticSource(faqCorpus())))
	_, err := uc.Rebuild(context.Background(), faqCorpus())
	assert.Error(t, err)

	stats := uc.Stats()
	assert.Nil(t, stats.Index)
	assert.Equal(t, 5, stats.FallbackEntries)
}

func TestInitBuildFailureFallsBack(t *testing.T) {
	f := newFixture(t, "h1")

	assert.Equal(t, ModeFallback, f.uc.Init(context.Background(), staticSource(domain.Corpus{})))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BuildsTotal.WithLabelValues(metrics.ResultError)))
}

func TestInitLoadsMatchingSnapshot(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()
	require.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))

	restarted := f.build("h1", f.store)
	sourceCalled := false
	mode := restarted.Init(ctx, func(context.Context) (domain.Corpus, error) {
		sourceCalled = true
		return faqCorpus(), nil
	})

	assert.Equal(t, ModeVector, mode)
	assert.False(t, sourceCalled, "a matching snapshot must not be rebuilt")
	assert.Equal(t, 1, f.store.Saves())
}

func TestInitRebuildsOnConfigChange(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()
	require.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))

	restarted := f.build("h2", f.store)
	assert.Equal(t, ModeVector, restarted.Init(ctx, staticSource(faqCorpus())))
	assert.Equal(t, 2, f.store.Saves())

	info, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "h2", info.Info.ConfigHash)
}

func TestInitKeepsStaleSnapshotWhenRebuildFails(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()
	require.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))

	restarted := f.build("h2", f.store)
	assert.Equal(t, ModeVector, restarted.Init(ctx, nil))

	resp, err := restarted.Query(ctx, QueryRequest{Query: "Jak zapłacić?", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, ModeVector, resp.Mode)
}

func TestQueryUsesCacheUntilRebuild(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()
	require.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))

	req := QueryRequest{Query: "dostawa kurier", TopK: 2}
	first, err := f.uc.Query(ctx, req)
	require.NoError(t, err)
	second, err := f.uc.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("vector", metrics.ResultCache)))
	assert.Equal(t, 1, f.uc.Stats().CachedQueries)

	_, err = f.uc.Rebuild(ctx, faqCorpus())
	require.NoError(t, err)
	assert.Equal(t, 0, f.uc.Stats().CachedQueries)
}

func TestQueryDegradesWhenEmbedderFails(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()
	require.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))

	f.emb.broken.Store(true)
	resp, err := f.uc.Query(ctx, QueryRequest{Query: "Jakie są koszty dostawy?", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, resp.Mode)
	assert.Equal(t, ModeVector, f.uc.Mode(), "a single failed query does not change the mode")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("vector", metrics.ResultError)))
}

func TestQueryRejectsInvalidTopK(t *testing.T) {
	f := newFixture(t, "h1")

	_, err := f.uc.Query(context.Background(), QueryRequest{Query: "x", TopK: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestQueryBeforeInitUsesFallback(t *testing.T) {
	f := newFixture(t, "h1")

	resp, err := f.uc.Query(context.Background(), QueryRequest{Query: "zwrot", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, resp.Mode)
	assert.Equal(t, ModeUninitialized, f.uc.Mode())
}

func TestRebuildFailureKeepsMode(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()
	require.Equal(t, ModeVector, f.uc.Init(ctx, staticSource(faqCorpus())))

	_, err := f.uc.Rebuild(ctx, domain.Corpus{})
	assert.ErrorIs(t, err, domain.ErrEmptyCorpus)
	assert.Equal(t, ModeVector, f.uc.Mode())

	stats := f.uc.Stats()
	require.NotNil(t, stats.Index)
	assert.Equal(t, 3, stats.Index.TotalChunks)
}

func TestReloadPromotesToVector(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()

	_, err := f.uc.Reload(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)

	require.Equal(t, ModeFallback, f.uc.Init(ctx, nil))

	other := f.build("h1", f.store)
	_, err = other.Rebuild(ctx, faqCorpus())
	require.NoError(t, err)

	info, err := f.uc.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.ChunkCount)
	assert.Equal(t, ModeVector, f.uc.Mode())
}

func TestQueryDeduplicates(t *testing.T) {
	f := newFixture(t, "h1")
	f.uc.opts.Dedup = retriever.NewDeduplicator(nil, 0.5)
	ctx := context.Background()

	corpus := domain.Corpus{FAQ: []domain.FAQEntry{
		{Question: "Jak zwrócić produkt?", Answer: "Zwrot możliwy w 14 dni.", Category: "zwrot"},
		{Question: "Jak zwrócić produkt?", Answer: "Zwrot możliwy w 14 dni!", Category: "zwrot"},
		{Question: "Ile kosztuje dostawa?", Answer: "Kurier kosztuje 15 zł.", Category: "dostawa"},
	}}
	_, err := f.uc.Rebuild(ctx, corpus)
	require.NoError(t, err)

	resp, err := f.uc.Query(ctx, QueryRequest{Query: "Jak zwrócić produkt?", TopK: 2})
	require.NoError(t, err)
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, "zwrot", resp.Chunks[0].Chunk.Metadata.String(domain.MetaCategory))
	assert.Equal(t, "dostawa", resp.Chunks[1].Chunk.Metadata.String(domain.MetaCategory))
}

func TestQueryDoesNotCacheResultsFromReplacedIndex(t *testing.T) {
	f := newFixture(t, "h1")
	ctx := context.Background()

	oldCorpus := domain.Corpus{FAQ: []domain.FAQEntry{
		{Question: "Stara", Answer: "Stara polityka zwrotu.", Category: "zwrot"},
	}}
	newCorpus := domain.Corpus{FAQ: []domain.FAQEntry{
		{Question: "Nowa", Answer: "Nowa polityka zwrotu.", Category: "zwrot"},
	}}
	_, err := f.uc.Rebuild(ctx, oldCorpus)
	require.NoError(t, err)

	req := QueryRequest{Query: "polityka zwrotu", TopK: 1}
	pause := f.emb.pauseNext()
	done := make(chan *QueryResponse, 1)
	go func() {
		resp, err := f.uc.Query(ctx, req)
		if err != nil {
			done <- nil
			return
		}
		done <- resp
	}()

	<-pause.entered
	_, err = f.uc.Rebuild(ctx, newCorpus)
	require.NoError(t, err)
	close(pause.release)

	inFlight := <-done
	require.NotNil(t, inFlight)
	assert.Contains(t, inFlight.Chunks[0].Chunk.Text, "Stara")

	resp, err := f.uc.Query(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Chunks, 1)
	assert.Equal(t, "Pytanie: Nowa\n\nOdpowiedź: Nowa polityka zwrotu.", resp.Chunks[0].Chunk.Text)
}
