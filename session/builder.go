package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/metrics"
)

// ProviderFunc creates a provider for one model.
type ProviderFunc func(cfg llm.Config) (llm.Provider, error)

// Builder turns settings into a chain. It holds everything a session does
// not choose: the graph, the provider endpoint and credentials, timeouts.
type Builder struct {
	Graph graph.Graph

	// LLM is the provider template; Model and Task are taken from settings.
	LLM llm.Config

	// NewProvider defaults to llm.NewProvider.
	NewProvider ProviderFunc

	// Breaker wraps every provider in a circuit breaker when set.
	Breaker *llm.BreakerConfig

	ReadOnly     bool
	StageTimeout time.Duration
	ExecTimeout  time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Build validates s and constructs a new chain from a fresh schema snapshot.
func (b *Builder) Build(ctx context.Context, s Settings) (*chain.Chain, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	providers := make(map[string]llm.Provider)
	provider := func(model string) (llm.Provider, error) {
		if model == "" {
			model = s.QAModel
		}
		if p, ok := providers[model]; ok {
			return p, nil
		}
		p, err := b.provider(model, s.Task)
		if err != nil {
			return nil, err
		}
		providers[model] = p
		return p, nil
	}

	qa, err := provider(s.QAModel)
	if err != nil {
		return nil, err
	}
	cypherLLM, err := provider(s.CypherModel)
	if err != nil {
		return nil, err
	}
	checker, err := provider(s.ValidateModel)
	if err != nil {
		return nil, err
	}

	params := s.params()
	return chain.New(ctx, b.Graph, chain.Config{
		LLM:                     qa,
		QueryLLM:                cypherLLM,
		CheckerLLM:              checker,
		QueryParams:             params,
		AnswerParams:            params,
		CheckerParams:           params,
		IncludeTypes:            s.IncludeTypes,
		ExcludeTypes:            s.ExcludeTypes,
		ValidateQuery:           s.ValidateQuery,
		TopK:                    s.ResultLimit,
		ReturnIntermediateSteps: s.ReturnIntermediateSteps,
		ReturnDirect:            s.ReturnDirect,
		SafetyCheck:             s.SafetyCheck,
		ReadOnly:                b.ReadOnly,
		StageTimeout:            b.StageTimeout,
		ExecTimeout:             b.ExecTimeout,
		Logger:                  b.Logger,
		Metrics:                 b.Metrics,
	})
}

func (b *Builder) provider(model, task string) (llm.Provider, error) {
	cfg := b.LLM
	cfg.Model = model
	cfg.Task = strings.TrimSpace(task)
	if cfg.Logger == nil {
		cfg.Logger = b.Logger
	}

	newProvider := b.NewProvider
	if newProvider == nil {
		newProvider = llm.NewProvider
	}
	p, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider for %s: %w", model, err)
	}
	if b.Breaker != nil {
		p = llm.WithBreaker(p, "llm:"+model, *b.Breaker, b.Logger)
	}
	return p, nil
}
