package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"kbrag/internal/domain"
)

const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	JinaBaseURL     = "https://api.jina.ai/v1"
	OllamaBaseURL   = "http://localhost:11434/v1"

	defaultBatchSize = 100
)

// ErrMissingAPIKey is returned when the configured key variable is unset.
var ErrMissingAPIKey = errors.New("embedding API key not set")

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	batchSize int

	mu        sync.Mutex
	dimension int
}

// Options configures an OpenAI-compatible embedder.
type Options struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int // 0 means learn it from the first response
	BatchSize int
	Timeout   time.Duration
}

func NewOpenAICompatibleEmbedder(opts Options) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		batchSize: batch,
		dimension: opts.Dimension,
	}
}

// ModelDimension returns the output size of well-known embedding models,
// or 0 when the model is not known.
func ModelDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3", "mxbai-embed-large":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "all-minilm":
		return 384
	}
	return 0
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		vec := make([]float32, len(data.Embedding))
		for j, f := range data.Embedding {
			vec[j] = float32(f)
		}
		embeddings[data.Index] = vec
	}

	for i, vec := range embeddings {
		if vec == nil {
			return nil, fmt.Errorf("embedding response missing vector %d of %d", i, len(texts))
		}
		if err := e.checkDimension(len(vec)); err != nil {
			return nil, err
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) checkDimension(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimension == 0 {
		e.dimension = n
		return nil
	}
	if n != e.dimension {
		return fmt.Errorf("model %s returned %d values, expected %d: %w", e.model, n, e.dimension, domain.ErrDimensionMismatch)
	}
	return nil
}

func (e *OpenAIEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
