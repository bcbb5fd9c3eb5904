package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti/schema"
)

// Neo4jConfig configures the Neo4j adapter.
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri" toml:"uri" validate:"required"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	Database string `json:"database,omitempty" yaml:"database,omitempty" toml:"database,omitempty"`

	// QueryTimeout is sent to the server as the transaction timeout.
	QueryTimeout time.Duration `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty" toml:"query_timeout,omitempty"`

	// MaxListSize drops list values longer than this from result rows.
	// Embedding vectors otherwise flood the answer prompt. Defaults to 128.
	MaxListSize int `json:"max_list_size,omitempty" yaml:"max_list_size,omitempty" toml:"max_list_size,omitempty"`
}

// excludedLabels are internal Neo4j Bloom labels never shown in a schema.
var excludedLabels = []string{"_Bloom_Perspective_", "_Bloom_Scene_"}

const (
	nodePropertiesQuery = `
CALL apoc.meta.data()
YIELD label, other, elementType, type, property
WHERE NOT type = "RELATIONSHIP" AND elementType = "node"
  AND NOT label IN $excluded
WITH label AS nodeLabel, collect({property: property, type: type}) AS properties
RETURN {name: nodeLabel, properties: properties} AS output`

	relPropertiesQuery = `
CALL apoc.meta.data()
YIELD label, other, elementType, type, property
WHERE NOT type = "RELATIONSHIP" AND elementType = "relationship"
  AND NOT label IN $excluded
WITH label AS relType, collect({property: property, type: type}) AS properties
RETURN {name: relType, properties: properties} AS output`

	relationshipsQuery = `
CALL apoc.meta.data()
YIELD label, other, elementType, type, property
WHERE type = "RELATIONSHIP" AND elementType = "node"
UNWIND other AS otherNode
WITH * WHERE NOT label IN $excluded AND NOT otherNode IN $excluded
RETURN {start: label, type: property, end: toString(otherNode)} AS output`
)

// Neo4j runs queries against a Neo4j server in read-mode sessions.
type Neo4j struct {
	driver neo4j.DriverWithContext
	cfg    Neo4jConfig
	logger *zap.Logger
}

// NewNeo4j connects and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig, logger *zap.Logger) (*Neo4j, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxListSize == 0 {
		cfg.MaxListSize = 128
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", cfg.URI, err)
	}

	logger.Info("graph: connected to neo4j", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return &Neo4j{driver: driver, cfg: cfg, logger: logger}, nil
}

// Query executes cypher in a read transaction and converts each record to
// a plain map.
func (g *Neo4j) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.cfg.Database,
	})
	defer session.Close(ctx)

	var txOpts []func(*neo4j.TransactionConfig)
	if g.cfg.QueryTimeout > 0 {
		txOpts = append(txOpts, neo4j.WithTxTimeout(g.cfg.QueryTimeout))
	}

	start := time.Now()
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			row := make(map[string]any, len(rec.Keys))
			for i, key := range rec.Keys {
				if v, keep := sanitizeValue(rec.Values[i], g.cfg.MaxListSize); keep {
					row[key] = v
				}
			}
			rows = append(rows, row)
		}
		return rows, nil
	}, txOpts...)
	if err != nil {
		return nil, err
	}

	rows := out.([]map[string]any)
	g.logger.Debug("graph: query executed",
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rows, nil
}

// Schema reads labels, relationship types and triples through APOC.
func (g *Neo4j) Schema(ctx context.Context) (*schema.Description, error) {
	params := map[string]any{"excluded": excludedLabels}

	nodes, err := g.Query(ctx, nodePropertiesQuery, params)
	if err != nil {
		return nil, fmt.Errorf("reading node properties: %w", err)
	}
	rels, err := g.Query(ctx, relPropertiesQuery, params)
	if err != nil {
		return nil, fmt.Errorf("reading relationship properties: %w", err)
	}
	triples, err := g.Query(ctx, relationshipsQuery, params)
	if err != nil {
		return nil, fmt.Errorf("reading relationships: %w", err)
	}
	return describe(nodes, rels, triples), nil
}

// Close closes the driver.
func (g *Neo4j) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// IsStatementError reports whether err is the server rejecting a statement
// (syntax, semantics, security) rather than a transport failure.
func IsStatementError(err error) bool {
	var ne *neo4j.Neo4jError
	if errors.As(err, &ne) {
		return strings.HasPrefix(ne.Code, "Neo.ClientError.")
	}
	return false
}

// describe turns the three APOC result sets into a schema snapshot.
func describe(nodes, rels, triples []map[string]any) *schema.Description {
	d := &schema.Description{}
	for _, row := range nodes {
		if tp, ok := typeProperties(row["output"]); ok {
			d.NodeProps = append(d.NodeProps, tp)
		}
	}
	for _, row := range rels {
		if tp, ok := typeProperties(row["output"]); ok {
			d.RelProps = append(d.RelProps, tp)
		}
	}
	for _, row := range triples {
		out, _ := row["output"].(map[string]any)
		start, _ := out["start"].(string)
		typ, _ := out["type"].(string)
		end, _ := out["end"].(string)
		if start == "" || typ == "" || end == "" {
			continue
		}
		d.Relationships = append(d.Relationships, schema.Triple{Start: start, Type: typ, End: end})
	}
	return d
}

func typeProperties(v any) (schema.TypeProperties, bool) {
	out, ok := v.(map[string]any)
	if !ok {
		return schema.TypeProperties{}, false
	}
	name, _ := out["name"].(string)
	if name == "" {
		return schema.TypeProperties{}, false
	}
	tp := schema.TypeProperties{Name: name}
	props, _ := out["properties"].([]any)
	for _, p := range props {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		pname, _ := pm["property"].(string)
		ptype, _ := pm["type"].(string)
		tp.Properties = append(tp.Properties, schema.Property{Name: pname, Type: ptype})
	}
	return tp, true
}

// sanitizeValue converts driver values to JSON-friendly ones. keep is false
// for lists longer than maxList, which are dropped entirely.
func sanitizeValue(v any, maxList int) (out any, keep bool) {
	switch x := v.(type) {
	case neo4j.Node:
		return sanitizeMap(x.Props, maxList), true
	case neo4j.Relationship:
		return sanitizeMap(x.Props, maxList), true
	case neo4j.Path:
		nodes := make([]any, 0, len(x.Nodes))
		for _, n := range x.Nodes {
			nodes = append(nodes, sanitizeMap(n.Props, maxList))
		}
		return nodes, true
	case map[string]any:
		return sanitizeMap(x, maxList), true
	case []any:
		if maxList > 0 && len(x) > maxList {
			return nil, false
		}
		list := make([]any, 0, len(x))
		for _, item := range x {
			if s, ok := sanitizeValue(item, maxList); ok {
				list = append(list, s)
			}
		}
		return list, true
	case time.Time:
		return x, true
	case fmt.Stringer:
		// temporal and spatial driver types
		return x.String(), true
	default:
		return v, true
	}
}

func sanitizeMap(m map[string]any, maxList int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := sanitizeValue(v, maxList); ok {
			out[k] = s
		}
	}
	return out
}
