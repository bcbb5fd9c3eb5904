// Package chain answers natural-language questions over a property graph.
//
// A run validates the question, generates a Cypher statement from the
// projected schema, sanitizes it, executes it with a bounded row count and
// synthesizes a French answer from the rows. Each generation stage's raw
// output is post-processed by the extract package.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti/cypher"
	"github.com/ntealan/genaiti/extract"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/metrics"
	"github.com/ntealan/genaiti/prompt"
	"github.com/ntealan/genaiti/schema"
)

// Apology is the answer of a run whose graph query failed.
const Apology = "Je ne peux pas obtenir de réponse avec la requête Cypher générée. Exception générée dans le graphe."

// DefaultTopK bounds the rows handed to the answer stage.
const DefaultTopK = 10

// ErrEmptyQuestion is returned by Run for a blank question.
var ErrEmptyQuestion = errors.New("chain: empty question")

// Stage names, also used as metric labels and span names.
const (
	StageValidation = "validation"
	StageSafety     = "safety"
	StageQuery      = "query"
	StageAnswer     = "answer"
	stageExecute    = "execute"
)

// Config is bound at construction and never changes afterwards.
type Config struct {
	// LLM is shared by every stage without its own model. Setting LLM,
	// QueryLLM and AnswerLLM together is ambiguous and rejected.
	LLM        llm.Provider
	QueryLLM   llm.Provider
	AnswerLLM  llm.Provider
	CheckerLLM llm.Provider // validation and safety; falls back to LLM then QueryLLM

	QueryPrompt    *prompt.Template
	AnswerPrompt   *prompt.Template
	ValidatePrompt *prompt.Template
	SafetyPrompt   *prompt.Template

	QueryParams   *Params
	AnswerParams  *Params
	CheckerParams *Params
	SafetyParams  *Params

	IncludeTypes []string
	ExcludeTypes []string

	// ValidateQuery checks generated statements against the schema triples,
	// flipping reversed arrows and dropping statements that cannot match.
	ValidateQuery bool

	// TopK is the maximum number of rows kept from a query. Defaults to 10.
	TopK int

	ReturnIntermediateSteps bool
	ReturnDirect            bool
	SafetyCheck             bool
	ReadOnly                bool

	StageTimeout time.Duration
	ExecTimeout  time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// State is a node of the run state machine.
type State string

const (
	StateStart           State = "start"
	StateValidating      State = "validating"
	StateRejected        State = "rejected"
	StateSafetyChecking  State = "safety_checking"
	StateGeneratingQuery State = "generating_query"
	StateSanitizing      State = "sanitizing"
	StateEmptyResult     State = "empty_result"
	StateExecuting       State = "executing"
	StateExecutionFailed State = "execution_failed"
	StateSynthesizing    State = "synthesizing"
	StateDone            State = "done"
)

// Run outcomes.
const (
	OutcomeAnswered        = "answered"
	OutcomeDirect          = "direct"
	OutcomeRejected        = "rejected"
	OutcomeUnsafe          = "unsafe"
	OutcomeEmpty           = "empty"
	OutcomeExecutionFailed = "execution_failed"
	OutcomeError           = "error"
)

// Step is one named fact recorded during a run.
type Step struct {
	Action    string `json:"action"`
	Input     string `json:"input,omitempty"`
	Output    string `json:"output,omitempty"`
	Prompt    string `json:"prompt,omitempty"`   // rendered prompt, for replay
	Response  string `json:"response,omitempty"` // raw model text
	Verdict   string `json:"verdict,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// Result is the output of one run.
type Result struct {
	RunID    uuid.UUID `json:"run_id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`

	// Rows holds the query rows when the chain returns them directly.
	Rows   []map[string]any `json:"rows,omitempty"`
	Direct bool             `json:"direct,omitempty"`

	// Query is the sanitized statement, empty when none was usable.
	Query   string  `json:"query,omitempty"`
	Outcome string  `json:"outcome"`
	Steps   []Step  `json:"steps,omitempty"`
	Path    []State `json:"transitions"`

	// Fault is set on the execution failure path. Run still returns a nil
	// error in that case.
	Fault     error `json:"-"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Chain is immutable after New and safe for concurrent use.
type Chain struct {
	graph graph.Graph

	validator *Stage
	safety    *Stage
	query     *Stage
	answer    *Stage

	desc      *schema.Description
	schema    string
	corrector *cypher.Corrector

	queryDelims  extract.Delimiters
	answerDelims extract.Delimiters

	topK          int
	steps         bool
	direct        bool
	safetyEnabled bool
	readOnly      bool
	execTimeout   time.Duration

	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// New validates cfg, takes a schema snapshot from g and binds the stages.
func New(ctx context.Context, g graph.Graph, cfg Config) (*Chain, error) {
	if g == nil {
		return nil, configErr("a graph is required")
	}
	if cfg.LLM == nil && cfg.QueryLLM == nil {
		return nil, configErr("either LLM or QueryLLM must be provided")
	}
	if cfg.LLM == nil && cfg.AnswerLLM == nil {
		return nil, configErr("either LLM or AnswerLLM must be provided")
	}
	if cfg.LLM != nil && cfg.QueryLLM != nil && cfg.AnswerLLM != nil {
		return nil, configErr("LLM, QueryLLM and AnswerLLM are mutually exclusive when all three are set")
	}
	if len(cfg.IncludeTypes) > 0 && len(cfg.ExcludeTypes) > 0 {
		return nil, &ConfigurationError{Reason: "include and exclude types", Err: schema.ErrConflictingFilters}
	}
	if cfg.TopK < 0 {
		return nil, configErr("top k must not be negative, got %d", cfg.TopK)
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	queryLLM := first(cfg.QueryLLM, cfg.LLM)
	answerLLM := first(cfg.AnswerLLM, cfg.LLM)
	checkerLLM := first(cfg.CheckerLLM, cfg.LLM, cfg.QueryLLM)

	c := &Chain{
		graph:         g,
		queryDelims:   extract.QueryDelimiters(),
		answerDelims:  extract.AnswerDelimiters(),
		topK:          cfg.TopK,
		steps:         cfg.ReturnIntermediateSteps,
		direct:        cfg.ReturnDirect,
		safetyEnabled: cfg.SafetyCheck,
		readOnly:      cfg.ReadOnly,
		execTimeout:   cfg.ExecTimeout,
		logger:        logger,
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer("genaiti/chain"),
	}

	var err error
	if c.query, err = newStage(StageQuery, queryLLM, cfg.QueryPrompt, cfg.QueryParams, prompt.DefaultQueryGeneration, cfg.StageTimeout); err != nil {
		return nil, err
	}
	if c.answer, err = newStage(StageAnswer, answerLLM, cfg.AnswerPrompt, cfg.AnswerParams, prompt.DefaultAnswer, cfg.StageTimeout); err != nil {
		return nil, err
	}
	if c.validator, err = newStage(StageValidation, checkerLLM, cfg.ValidatePrompt, cfg.CheckerParams, prompt.DefaultQuestionValidation, cfg.StageTimeout); err != nil {
		return nil, err
	}
	safetyParams := cfg.SafetyParams
	if safetyParams == nil {
		safetyParams = cfg.CheckerParams
		if safetyParams != nil && safetyParams.Prompt != nil {
			// the checker prompt belongs to the validator
			p := *safetyParams
			p.Prompt = nil
			safetyParams = &p
		}
	}
	if c.safety, err = newStage(StageSafety, checkerLLM, cfg.SafetyPrompt, safetyParams, prompt.DefaultSafety, cfg.StageTimeout); err != nil {
		return nil, err
	}

	c.desc, err = g.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading graph schema: %w", err)
	}
	c.schema, err = schema.Project(c.desc, cfg.IncludeTypes, cfg.ExcludeTypes)
	if err != nil {
		return nil, &ConfigurationError{Reason: "projecting schema", Err: err}
	}
	if cfg.ValidateQuery {
		c.corrector = cypher.NewCorrector(c.desc.Triples())
	}

	logger.Debug("chain: built",
		zap.Int("node_types", len(c.desc.NodeProps)),
		zap.Int("triples", len(c.desc.Relationships)),
		zap.Bool("validate_query", cfg.ValidateQuery),
		zap.Bool("safety_check", cfg.SafetyCheck),
		zap.Int("top_k", c.topK),
	)
	return c, nil
}

// Schema returns the projected schema text given to the query stage.
func (c *Chain) Schema() string { return c.schema }

// Description returns the schema snapshot taken at construction.
func (c *Chain) Description() *schema.Description { return c.desc }

// run carries the mutable state of one Run call.
type run struct {
	res   *Result
	steps []Step
}

func (r *run) enter(s State) { r.res.Path = append(r.res.Path, s) }

func (r *run) record(s Step) { r.steps = append(r.steps, s) }

// Run answers one question. Generation failures are returned as
// *GenerationError. A failed graph query is not an error: the result carries
// the apology answer and the fault.
func (c *Chain) Run(ctx context.Context, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	r := &run{res: &Result{RunID: uuid.New(), Question: question}}
	r.enter(StateStart)

	ctx, span := c.tracer.Start(ctx, "chain.run", trace.WithAttributes(
		attribute.String("run_id", r.res.RunID.String()),
	))
	defer span.End()

	log := c.logger.With(zap.String("run_id", r.res.RunID.String()))
	log.Info("chain: run starting", zap.Int("question_len", len(question)))

	err := c.walk(ctx, r, question, log)

	r.res.ElapsedMs = time.Since(start).Milliseconds()
	if c.steps {
		r.res.Steps = r.steps
	}
	if err != nil {
		r.res.Outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordRun(OutcomeError)
		log.Warn("chain: run failed", zap.Error(err), zap.Any("path", r.res.Path))
		return nil, err
	}

	r.enter(StateDone)
	span.SetAttributes(attribute.String("outcome", r.res.Outcome))
	c.metrics.RecordRun(r.res.Outcome)
	log.Info("chain: run complete",
		zap.String("outcome", r.res.Outcome),
		zap.Int64("elapsed_ms", r.res.ElapsedMs),
	)
	return r.res, nil
}

func (c *Chain) walk(ctx context.Context, r *run, question string, log *zap.Logger) error {
	// Validating
	r.enter(StateValidating)
	gen, text, err := c.generate(ctx, c.validator, map[string]string{prompt.VarQuestion: question}, c.answerDelims)
	if err != nil {
		return err
	}
	verdict := ParseVerdict(text)
	r.record(Step{
		Action:    StageValidation,
		Input:     question,
		Output:    text,
		Prompt:    gen.Prompt,
		Response:  gen.Raw,
		Verdict:   verdict.String(),
		Tokens:    gen.Tokens,
		ElapsedMs: gen.Elapsed.Milliseconds(),
	})
	if verdict != VerdictTrue {
		log.Debug("chain: question not translatable", zap.Stringer("verdict", verdict))
		return c.reject(ctx, r, question, OutcomeRejected)
	}

	// SafetyChecking
	if c.safetyEnabled {
		r.enter(StateSafetyChecking)
		gen, text, err := c.generate(ctx, c.safety, map[string]string{prompt.VarQuestion: question}, c.answerDelims)
		if err != nil {
			return err
		}
		verdict := ParseVerdict(text)
		r.record(Step{
			Action:    StageSafety,
			Input:     question,
			Output:    text,
			Prompt:    gen.Prompt,
			Response:  gen.Raw,
			Verdict:   verdict.String(),
			Tokens:    gen.Tokens,
			ElapsedMs: gen.Elapsed.Milliseconds(),
		})
		if verdict != VerdictFalse {
			log.Info("chain: question flagged unsafe", zap.Stringer("verdict", verdict))
			return c.reject(ctx, r, question, OutcomeUnsafe)
		}
	}

	// GeneratingQuery
	r.enter(StateGeneratingQuery)
	gen, text, err = c.generate(ctx, c.query, map[string]string{
		prompt.VarQuestion: question,
		prompt.VarSchema:   c.schema,
	}, c.queryDelims)
	if err != nil {
		return err
	}

	// Sanitizing
	r.enter(StateSanitizing)
	query, ok := cypher.Sanitize(text, c.corrector)
	if ok && c.readOnly && !cypher.IsReadOnly(query) {
		log.Warn("chain: generated query writes to the graph, dropping it", zap.String("query", query))
		query, ok = "", false
	}
	r.res.Query = query
	r.record(Step{
		Action:    StageQuery,
		Input:     text,
		Output:    query,
		Prompt:    gen.Prompt,
		Response:  gen.Raw,
		Tokens:    gen.Tokens,
		ElapsedMs: gen.Elapsed.Milliseconds(),
	})
	log.Debug("chain: generated query", zap.String("query", query), zap.Bool("usable", ok))

	var rows []map[string]any
	if !ok {
		r.enter(StateEmptyResult)
		r.res.Outcome = OutcomeEmpty
	} else {
		r.enter(StateExecuting)
		rows, err = c.runQuery(ctx, query)
		if err != nil {
			r.enter(StateExecutionFailed)
			r.res.Answer = Apology
			r.res.Outcome = OutcomeExecutionFailed
			r.res.Fault = &ExecutionError{Query: query, Err: err}
			log.Warn("chain: graph query failed", zap.String("query", query), zap.Error(err))
			return nil
		}
		r.res.Outcome = OutcomeAnswered
	}

	if c.direct {
		if rows == nil {
			rows = []map[string]any{}
		}
		r.res.Rows = rows
		r.res.Direct = true
		r.res.Answer = renderRows(rows)
		if r.res.Outcome == OutcomeAnswered {
			r.res.Outcome = OutcomeDirect
		}
		return nil
	}

	// Synthesizing
	r.enter(StateSynthesizing)
	contextText := renderRows(rows)
	r.record(Step{
		Action: "context",
		Output: contextText,
		Rows:   len(rows),
	})
	gen, answer, err := c.generate(ctx, c.answer, map[string]string{
		prompt.VarQuestion: question,
		prompt.VarContext:  contextText,
	}, c.answerDelims)
	if err != nil {
		return err
	}
	r.record(Step{
		Action:    StageAnswer,
		Input:     question,
		Output:    answer,
		Prompt:    gen.Prompt,
		Response:  gen.Raw,
		Tokens:    gen.Tokens,
		ElapsedMs: gen.Elapsed.Milliseconds(),
	})
	r.res.Answer = answer
	return nil
}

// reject answers without touching the graph.
func (c *Chain) reject(ctx context.Context, r *run, question, outcome string) error {
	r.enter(StateRejected)
	gen, answer, err := c.generate(ctx, c.answer, map[string]string{
		prompt.VarQuestion: question,
		prompt.VarContext:  "",
	}, c.answerDelims)
	if err != nil {
		return err
	}
	r.record(Step{
		Action:    StageAnswer,
		Input:     question,
		Output:    answer,
		Prompt:    gen.Prompt,
		Response:  gen.Raw,
		Tokens:    gen.Tokens,
		ElapsedMs: gen.Elapsed.Milliseconds(),
	})
	r.res.Answer = answer
	r.res.Outcome = outcome
	return nil
}

// generate runs one stage and extracts its text.
func (c *Chain) generate(ctx context.Context, s *Stage, vars map[string]string, delims extract.Delimiters) (*Generation, string, error) {
	ctx, span := c.tracer.Start(ctx, "chain.stage."+s.Name)
	defer span.End()

	gen, err := s.Generate(ctx, vars)
	var elapsed time.Duration
	if gen != nil {
		elapsed = gen.Elapsed
	}
	c.metrics.RecordStage(s.Name, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", err
	}

	span.SetAttributes(attribute.Int("tokens", gen.Tokens))
	return gen, extract.Extract(gen.Raw, delims), nil
}

// runQuery executes a sanitized statement and truncates its rows to top k.
func (c *Chain) runQuery(ctx context.Context, query string) ([]map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "chain.execute")
	defer span.End()

	if c.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.execTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := c.graph.Query(ctx, query, nil)
	c.metrics.RecordStage(stageExecute, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.metrics.RecordGraphRows(len(rows))
	span.SetAttributes(attribute.Int("rows", len(rows)))
	if len(rows) > c.topK {
		rows = rows[:c.topK]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// renderRows renders rows as a JSON array; an empty set renders as [].
func renderRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return "[]"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return fmt.Sprint(rows)
	}
	return strings.TrimSpace(buf.String())
}

func first(ps ...llm.Provider) llm.Provider {
	for _, p := range ps {
		if p != nil {
			return p
		}
	}
	return nil
}
