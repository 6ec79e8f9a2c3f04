package embedding

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"kbrag/config"
	"kbrag/internal/port"
)

// New builds the configured embedder. Network providers are wrapped in a
// GuardedEmbedder.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (port.Embedder, error) {
	if cfg.Provider == "hash" {
		return NewHashEmbedder(cfg.Dimension), nil
	}

	opts, err := providerOptions(cfg)
	if err != nil {
		return nil, err
	}

	return NewGuardedEmbedder(NewOpenAICompatibleEmbedder(opts), GuardOptions{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Failures:          cfg.BreakerFailures,
		OpenTimeout:       cfg.BreakerTimeout,
	}, logger), nil
}

func providerOptions(cfg config.EmbeddingConfig) (Options, error) {
	opts := Options{
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		BatchSize: cfg.BatchSize,
		Dimension: ModelDimension(cfg.Model),
	}
	if opts.Dimension == 0 {
		opts.Dimension = cfg.Dimension
	}

	var defaultURL string
	switch cfg.Provider {
	case "", "openai":
		defaultURL = OpenAIBaseURL
	case "deepseek":
		defaultURL = DeepSeekBaseURL
	case "jina":
		defaultURL = JinaBaseURL
	case "ollama":
		defaultURL = OllamaBaseURL
		opts.APIKey = "ollama"
		opts.Timeout = 120 * time.Second
	default:
		return Options{}, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultURL
	}

	if opts.APIKey == "" {
		opts.APIKey = os.Getenv(cfg.APIKeyEnv)
		if opts.APIKey == "" {
			return Options{}, fmt.Errorf("%w: environment variable %s", ErrMissingAPIKey, cfg.APIKeyEnv)
		}
	}

	return opts, nil
}
