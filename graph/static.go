package graph

import (
	"context"
	"sync"

	"github.com/ntealan/genaiti/schema"
)

// Responder answers a query on behalf of a Static graph.
type Responder func(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)

// Static is an in-memory Graph with a fixed schema. Every executed query is
// recorded.
type Static struct {
	desc    *schema.Description
	respond Responder

	mu      sync.Mutex
	queries []string
}

// NewStatic returns a graph reporting desc and answering with respond. A nil
// respond returns no rows.
func NewStatic(desc *schema.Description, respond Responder) *Static {
	if desc == nil {
		desc = &schema.Description{}
	}
	return &Static{desc: desc, respond: respond}
}

// Rows is a Responder that always returns rows.
func Rows(rows ...map[string]any) Responder {
	return func(context.Context, string, map[string]any) ([]map[string]any, error) {
		out := make([]map[string]any, len(rows))
		copy(out, rows)
		return out, nil
	}
}

// Fail is a Responder that always fails with err.
func Fail(err error) Responder {
	return func(context.Context, string, map[string]any) ([]map[string]any, error) {
		return nil, err
	}
}

func (s *Static) Schema(ctx context.Context) (*schema.Description, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.desc, nil
}

func (s *Static) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	s.queries = append(s.queries, cypher)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.respond == nil {
		return nil, nil
	}
	return s.respond(ctx, cypher, params)
}

// Queries returns the queries executed so far.
func (s *Static) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *Static) Close(context.Context) error { return nil }
