package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbrag/config"
	"kbrag/internal/domain"
)

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeOpenAI answers /embeddings with vectors [len(text), i, 1] in reverse order.
func fakeOpenAI(t *testing.T, dim int, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(len([]rune(req.Input[i])))
			if dim > 1 {
				vec[1] = float32(i)
			}
			data = append(data, item{Object: "embedding", Embedding: vec, Index: i})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedderKeepsInputOrder(t *testing.T) {
	var requests atomic.Int32
	srv := fakeOpenAI(t, 3, &requests)
	defer srv.Close()

	e := NewOpenAICompatibleEmbedder(Options{
		APIKey:    "test-key",
		Model:     "text-embedding-3-small",
		BaseURL:   srv.URL,
		BatchSize: 2,
	})

	vecs, err := e.Embed(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(2), vecs[2][0])
	assert.Equal(t, int32(2), requests.Load(), "3 texts with batch size 2 need 2 requests")
	assert.Equal(t, 3, e.Dimension(), "dimension is learned from the first response")
	assert.Equal(t, "text-embedding-3-small", e.ModelName())
}

func TestOpenAIEmbedderEmptyInput(t *testing.T) {
	var requests atomic.Int32
	srv := fakeOpenAI(t, 3, &requests)
	defer srv.Close()

	e := NewOpenAICompatibleEmbedder(Options{APIKey: "test-key", BaseURL: srv.URL})
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, int32(0), requests.Load())
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	var requests atomic.Int32
	srv := fakeOpenAI(t, 3, &requests)
	defer srv.Close()

	e := NewOpenAICompatibleEmbedder(Options{APIKey: "test-key", BaseURL: srv.URL, Dimension: 8})
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestOpenAIEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAICompatibleEmbedder(Options{APIKey: "test-key", BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	vecs, err := e.Embed(ctx, []string{
		"Zwrot możliwy w 14 dni.",
		"Zwrot możliwy w 14 dni.",
		"Jak zwrócić produkt? Zwrot",
		"Płatność kartą nie działa",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	assert.Equal(t, vecs[0], vecs[1], "embedding must be deterministic")
	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-5)
	assert.Equal(t, 0.0, norm(vecs[4]), "empty text gives the zero vector")

	assert.Less(t, l2(vecs[0], vecs[2]), l2(vecs[0], vecs[3]),
		"texts sharing words should be closer than unrelated ones")

	assert.Equal(t, 64, e.Dimension())
	assert.Equal(t, "hash-64", e.ModelName())
}

func TestHashEmbedderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

type stubEmbedder struct {
	calls atomic.Int32
	err   error
	short bool
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	n := len(texts)
	if s.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int    { return 1 }
func (s *stubEmbedder) ModelName() string { return "stub" }

func TestGuardedEmbedderOpensBreaker(t *testing.T) {
	stub := &stubEmbedder{err: errors.New("provider down")}
	g := NewGuardedEmbedder(stub, GuardOptions{Failures: 2, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Embed(ctx, []string{"x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), stub.calls.Load(), "open breaker must not call the provider")
}

func TestGuardedEmbedderIgnoresCallerCancellation(t *testing.T) {
	stub := &stubEmbedder{err: context.Canceled}
	g := NewGuardedEmbedder(stub, GuardOptions{Failures: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Embed(context.Background(), []string{"x"})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", g.State())
}

func TestGuardedEmbedderRateLimitHonoursContext(t *testing.T) {
	stub := &stubEmbedder{}
	g := NewGuardedEmbedder(stub, GuardOptions{RequestsPerSecond: 0.001}, nil)

	_, err := g.Embed(context.Background(), []string{"x"})
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Embed(ctx, []string{"x"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestBatchEmbedderProgress(t *testing.T) {
	stub := &stubEmbedder{}
	var progress []int
	b := NewBatchEmbedder(stub, 2, func(done, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, done)
	})

	vecs, err := b.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestBatchEmbedderRejectsShortBatch(t *testing.T) {
	b := NewBatchEmbedder(&stubEmbedder{short: true}, 10, nil)
	_, err := b.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Embedding

	cfg.Provider = "hash"
	cfg.Dimension = 32
	e, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "hash-32", e.ModelName())

	cfg.Provider = "openai"
	cfg.APIKeyEnv = "KBRAG_TEST_MISSING_KEY"
	t.Setenv("KBRAG_TEST_MISSING_KEY", "")
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("KBRAG_TEST_MISSING_KEY", "sk-test")
	e, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())
	assert.IsType(t, &GuardedEmbedder{}, e)

	cfg.Provider = "ollama"
	cfg.Model = "nomic-embed-text"
	e, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())

	cfg.Provider = "word2vec"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func l2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}
