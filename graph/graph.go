// Package graph adapts property graph stores to the question answering
// chain: a schema snapshot accessor and read-only query execution.
package graph

import (
	"context"

	"github.com/ntealan/genaiti/schema"
)

// Graph is the graph store collaborator.
type Graph interface {
	// Schema returns a fresh snapshot of the store's labels, relationship
	// types, their properties and the valid connection triples.
	Schema(ctx context.Context) (*schema.Description, error)

	// Query runs cypher and returns its rows in order.
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)

	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
