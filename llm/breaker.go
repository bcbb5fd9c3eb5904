package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker placed in front of a provider.
type BreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests" yaml:"max_requests" toml:"max_requests"`
	Interval         time.Duration `json:"interval" yaml:"interval" toml:"interval"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`
	MinRequests      uint32        `json:"min_requests" yaml:"min_requests" toml:"min_requests"`
}

// DefaultBreakerConfig trips after 5 requests with an 80% failure rate and
// tries again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p so that a failing backend is short-circuited with
// gobreaker.ErrOpenState instead of being called. Context cancellation is
// not counted as a backend failure.
func WithBreaker(p Provider, name string, cfg BreakerConfig, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm: circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == context.Canceled
		},
	})
	return &breakerProvider{next: p, cb: cb}
}

func (b *breakerProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Chat(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*ChatResponse), nil
}

func (b *breakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}
