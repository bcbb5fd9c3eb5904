// Package genaiti answers natural language questions over a dictionary
// knowledge graph. An Assistant wires the graph store, the text generation
// endpoint, the run log and the chat sessions together.
package genaiti

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/metrics"
	"github.com/ntealan/genaiti/schema"
	"github.com/ntealan/genaiti/session"
	"github.com/ntealan/genaiti/store"
)

// DefaultSession is the ID of the session Ask uses unless told otherwise.
const DefaultSession = "default"

// Option configures an Assistant.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	graph       graph.Graph
	metrics     *metrics.Collector
	newProvider session.ProviderFunc
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGraph uses g instead of connecting to Neo4j.
func WithGraph(g graph.Graph) Option {
	return func(o *options) { o.graph = g }
}

// WithMetrics records runs and stages into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithProviderFunc overrides how model providers are created.
func WithProviderFunc(fn session.ProviderFunc) Option {
	return func(o *options) { o.newProvider = fn }
}

// AskOption configures a single question.
type AskOption func(*askOptions)

type askOptions struct {
	session string
}

// InSession asks within the given session instead of the default one.
func InSession(id string) AskOption {
	return func(o *askOptions) { o.session = id }
}

// Assistant is the main entry point.
type Assistant struct {
	opts    options
	logger  *zap.Logger
	graph   graph.Graph
	store   *store.Store
	metrics *metrics.Collector
	manager *session.Manager

	mu     sync.Mutex
	cfg    Config
	closed atomic.Bool
}

// New creates an assistant from cfg. The default session is built eagerly so
// configuration mistakes surface here.
func New(ctx context.Context, cfg Config, opts ...Option) (*Assistant, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Assistant{opts: o, logger: o.logger, metrics: o.metrics, cfg: cfg}

	g := o.graph
	if g == nil {
		n, err := graph.NewNeo4j(ctx, cfg.Graph, o.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoGraph, err)
		}
		g = n
	}
	if cfg.Breaker {
		g = graph.WithBreaker(g, "graph", o.logger)
	}
	a.graph = g

	var st session.Store
	if !cfg.NoHistory {
		s, err := store.New(cfg.ResolveDBPath(), cfg.EmbeddingDim, o.logger)
		if err != nil {
			_ = g.Close(ctx)
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = s
		st = s
	}

	mopts := []session.Option{session.WithLogger(o.logger)}
	if cfg.Embedding != nil && a.store != nil {
		embedder, err := a.newProvider(*cfg.Embedding)
		if err != nil {
			a.release(ctx)
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		mopts = append(mopts, session.WithEmbedder(embedder))
	}
	a.manager = session.NewManager(a.builder(cfg), st, mopts...)

	if _, err := a.manager.CreateWithID(ctx, DefaultSession, cfg.Session); err != nil {
		a.release(ctx)
		return nil, fmt.Errorf("building default session: %w", err)
	}

	o.logger.Info("genaiti: assistant ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("qa_model", cfg.Session.QAModel),
		zap.Bool("history", a.store != nil))
	return a, nil
}

func (a *Assistant) newProvider(cfg llm.Config) (llm.Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = a.logger
	}
	if a.opts.newProvider != nil {
		return a.opts.newProvider(cfg)
	}
	return llm.NewProvider(cfg)
}

func (a *Assistant) builder(cfg Config) *session.Builder {
	b := &session.Builder{
		Graph:        a.graph,
		LLM:          cfg.LLM,
		NewProvider:  a.opts.newProvider,
		ReadOnly:     cfg.ReadOnly,
		StageTimeout: cfg.StageTimeout,
		ExecTimeout:  cfg.ExecTimeout,
		Logger:       a.logger,
		Metrics:      a.metrics,
	}
	if cfg.Breaker {
		bc := llm.DefaultBreakerConfig()
		b.Breaker = &bc
	}
	return b
}

// Ask answers question in the default session or the one chosen by opts.
func (a *Assistant) Ask(ctx context.Context, question string, opts ...AskOption) (*chain.Result, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	o := askOptions{session: DefaultSession}
	for _, opt := range opts {
		opt(&o)
	}
	return a.manager.Ask(ctx, o.session, question)
}

// Sessions returns the session manager.
func (a *Assistant) Sessions() *session.Manager { return a.manager }

// Store returns the run log, or nil when history is disabled.
func (a *Assistant) Store() *store.Store { return a.store }

// Metrics returns the collector passed with WithMetrics.
func (a *Assistant) Metrics() *metrics.Collector { return a.metrics }

// Config returns the configuration currently in effect.
func (a *Assistant) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Schema returns the schema text the default session's chain was built
// with, projected through its type filters.
func (a *Assistant) Schema(ctx context.Context) (string, error) {
	s, err := a.manager.Get(ctx, DefaultSession)
	if err != nil {
		return "", err
	}
	return s.Chain().Schema(), nil
}

// Describe reads a fresh, unfiltered schema snapshot from the graph.
func (a *Assistant) Describe(ctx context.Context) (*schema.Description, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return a.graph.Schema(ctx)
}

// Reload applies a new configuration: every live session is rebuilt with
// the new endpoint and timeouts, and the default session takes the new
// default settings. Graph connection and storage settings need a restart.
func (a *Assistant) Reload(ctx context.Context, cfg Config) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if err := a.manager.SetBuilder(ctx, a.builder(cfg)); err != nil {
		errs = append(errs, err)
	}
	if _, err := a.manager.Update(ctx, DefaultSession, cfg.Session); err != nil {
		errs = append(errs, fmt.Errorf("updating default session: %w", err))
	}
	a.cfg = cfg
	a.logger.Info("genaiti: configuration reloaded")
	return errors.Join(errs...)
}

// Close releases the graph connection and the store.
func (a *Assistant) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.release(context.Background())
}

func (a *Assistant) release(ctx context.Context) error {
	var errs []error
	if a.graph != nil {
		errs = append(errs, a.graph.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
