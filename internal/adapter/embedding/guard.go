package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kbrag/internal/logging"
	"kbrag/internal/port"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("embedding provider unavailable")

// GuardOptions configures a GuardedEmbedder.
type GuardOptions struct {
	RequestsPerSecond float64 // 0 disables rate limiting
	Failures          uint32  // consecutive failures that open the breaker
	OpenTimeout       time.Duration
}

// GuardedEmbedder wraps an embedder with a rate limiter and a circuit
// breaker so a failing provider is not hammered.
type GuardedEmbedder struct {
	next    port.Embedder
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGuardedEmbedder(next port.Embedder, opts GuardOptions, logger *zap.Logger) *GuardedEmbedder {
	logger = logging.OrNop(logger)

	failures := opts.Failures
	if failures == 0 {
		failures = 3
	}
	timeout := opts.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder-" + next.ModelName(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the provider.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &GuardedEmbedder{
		next:    next,
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	return result.([][]float32), nil
}

// State reports the breaker state: "closed", "half-open" or "open".
func (g *GuardedEmbedder) State() string {
	return g.breaker.State().String()
}

func (g *GuardedEmbedder) Dimension() int {
	return g.next.Dimension()
}

func (g *GuardedEmbedder) ModelName() string {
	return g.next.ModelName()
}
