package graph

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti/schema"
)

type breakerGraph struct {
	Graph
	cb *gobreaker.CircuitBreaker
}

// WithBreaker guards g's Query with a circuit breaker. Only connectivity
// style failures should trip it, so errors the server raises for a bad
// statement are reported as successes to the breaker.
func WithBreaker(g Graph, name string, logger *zap.Logger) Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("graph: circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsStatementError(err)
		},
	})
	return &breakerGraph{Graph: g, cb: cb}
}

func (b *breakerGraph) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Graph.Query(ctx, cypher, params)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]map[string]any)
	return rows, nil
}

func (b *breakerGraph) Schema(ctx context.Context) (*schema.Description, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Graph.Schema(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*schema.Description), nil
}
