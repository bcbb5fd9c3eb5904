// Package eval scores the assistant against a set of questions with known
// outcomes, expected facts and expected query fragments.
package eval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/llm"
)

// PassThreshold is the minimum accuracy and query match a test needs.
const PassThreshold = 0.5

// Asker answers questions. *genaiti.Assistant satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string, opts ...genaiti.AskOption) (*chain.Result, error)
}

// Evaluator runs evaluation datasets against an assistant.
type Evaluator struct {
	asker      Asker
	logger     *zap.Logger
	judgeLLM   llm.Provider
	judgeModel string
}

// NewEvaluator creates a new evaluator. A nil logger discards output.
func NewEvaluator(asker Asker, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{asker: asker, logger: logger}
}

// SetJudge configures an LLM judge for fact coverage. When set, accuracy
// comes from the judge and substring matching is kept as strict accuracy.
func (e *Evaluator) SetJudge(provider llm.Provider, model string) {
	e.judgeLLM = provider
	e.judgeModel = model
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Outcomes        map[string]int              `json:"outcomes"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
	Tokens          int                         `json:"tokens"`
}

// AggregateMetrics holds averaged metrics across tests that did not error.
type AggregateMetrics struct {
	AvgAccuracy       float64 `json:"avg_accuracy"`
	AvgStrictAccuracy float64 `json:"avg_strict_accuracy"`
	AvgQueryMatch     float64 `json:"avg_query_match"`
	OutcomeMatchRate  float64 `json:"outcome_match_rate"`
}

// TestResult holds the result of a single test case.
type TestResult struct {
	Question        string   `json:"question"`
	Category        string   `json:"category,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	ExpectedFacts   []string `json:"expected_facts,omitempty"`

	Outcome string `json:"outcome"`
	Answer  string `json:"answer"`
	Query   string `json:"query,omitempty"`

	Accuracy       float64 `json:"accuracy"`
	StrictAccuracy float64 `json:"strict_accuracy"`
	QueryMatch     float64 `json:"query_match"`
	OutcomeMatch   bool    `json:"outcome_match"`
	Passed         bool    `json:"passed"`
	Error          string  `json:"error,omitempty"`

	Tokens    int          `json:"tokens"`
	ElapsedMs int64        `json:"elapsed_ms"`
	Steps     []chain.Step `json:"steps,omitempty"`
}

type accumulator struct {
	n       int
	sum     AggregateMetrics
	matched int
}

func (a *accumulator) add(r TestResult) {
	a.n++
	a.sum.AvgAccuracy += r.Accuracy
	a.sum.AvgStrictAccuracy += r.StrictAccuracy
	a.sum.AvgQueryMatch += r.QueryMatch
	if r.OutcomeMatch {
		a.matched++
	}
}

func (a *accumulator) mean() AggregateMetrics {
	if a.n == 0 {
		return AggregateMetrics{}
	}
	n := float64(a.n)
	return AggregateMetrics{
		AvgAccuracy:       a.sum.AvgAccuracy / n,
		AvgStrictAccuracy: a.sum.AvgStrictAccuracy / n,
		AvgQueryMatch:     a.sum.AvgQueryMatch / n,
		OutcomeMatchRate:  float64(a.matched) / n,
	}
}

// Run asks every question of dataset in order. opts apply to each Ask.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset, opts ...genaiti.AskOption) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		TotalTests:      len(dataset.Tests),
		CategoryMetrics: make(map[string]AggregateMetrics),
		Outcomes:        make(map[string]int),
	}

	var all accumulator
	cats := make(map[string]*accumulator)

	for i, test := range dataset.Tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := e.runTest(ctx, test, opts...)
		report.Results = append(report.Results, result)
		report.Tokens += result.Tokens

		status := "PASS"
		switch {
		case result.Error != "":
			status = "ERROR"
			report.Errors++
		case !result.Passed:
			status = "FAIL"
		}
		e.logger.Info("eval: test complete",
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Tests))),
			zap.String("status", status),
			zap.String("outcome", result.Outcome),
			zap.Float64("accuracy", result.Accuracy),
			zap.Float64("query_match", result.QueryMatch),
			zap.Int64("elapsed_ms", result.ElapsedMs),
			zap.String("question", truncate(test.Question, 80)))

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}

		// Errors would only drag the averages to zero.
		if result.Error != "" {
			continue
		}
		report.Outcomes[result.Outcome]++
		all.add(result)
		if test.Category != "" {
			if cats[test.Category] == nil {
				cats[test.Category] = &accumulator{}
			}
			cats[test.Category].add(result)
		}
	}

	report.Metrics = all.mean()
	for cat, acc := range cats {
		report.CategoryMetrics[cat] = acc.mean()
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, test TestCase, opts ...genaiti.AskOption) TestResult {
	testStart := time.Now()
	result := TestResult{
		Question:        test.Question,
		Category:        test.Category,
		ExpectedOutcome: test.ExpectedOutcome,
		ExpectedFacts:   test.ExpectedFacts,
	}

	res, err := e.asker.Ask(ctx, test.Question, opts...)
	result.ElapsedMs = time.Since(testStart).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Outcome = res.Outcome
	result.Answer = res.Answer
	result.Query = res.Query
	result.Steps = res.Steps
	for _, s := range res.Steps {
		result.Tokens += s.Tokens
	}

	result.OutcomeMatch = test.ExpectedOutcome == "" || test.ExpectedOutcome == res.Outcome
	result.StrictAccuracy = computeAccuracy(res.Answer, test.ExpectedFacts)
	result.Accuracy = result.StrictAccuracy
	if e.judgeLLM != nil && len(test.ExpectedFacts) > 0 {
		acc, err := computeAccuracyLLM(ctx, e.judgeLLM, e.judgeModel, res.Answer, test.ExpectedFacts)
		if err != nil {
			e.logger.Warn("eval: judge failed, keeping strict accuracy",
				zap.Error(err), zap.String("question", truncate(test.Question, 60)))
		} else {
			result.Accuracy = acc
		}
	}
	result.QueryMatch = computeQueryMatch(res.Query, test.QueryFragments)

	result.Passed = result.OutcomeMatch &&
		result.Accuracy >= PassThreshold &&
		result.QueryMatch >= PassThreshold
	return result
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d | Errors: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed, r.Errors)
	fmt.Fprintf(&b, "Run time: %s | Tokens: %d\n\n", r.RunTime.Round(time.Millisecond), r.Tokens)

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Outcome match:    %.2f\n", r.Metrics.OutcomeMatchRate)
	fmt.Fprintf(&b, "  Accuracy:         %.2f\n", r.Metrics.AvgAccuracy)
	if r.Metrics.AvgStrictAccuracy != r.Metrics.AvgAccuracy {
		fmt.Fprintf(&b, "  Strict accuracy:  %.2f\n", r.Metrics.AvgStrictAccuracy)
	}
	fmt.Fprintf(&b, "  Query match:      %.2f\n\n", r.Metrics.AvgQueryMatch)

	if len(r.Outcomes) > 0 {
		outcomes := make([]string, 0, len(r.Outcomes))
		for o := range r.Outcomes {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		fmt.Fprintf(&b, "Outcomes:\n")
		for _, o := range outcomes {
			fmt.Fprintf(&b, "  %-17s %d\n", o, r.Outcomes[o])
		}
		fmt.Fprintln(&b)
	}

	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s] Outcome=%.2f Acc=%.2f Query=%.2f\n",
				cat, m.OutcomeMatchRate, m.AvgAccuracy, m.AvgQueryMatch)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, res.Question)
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  Outcome=%s Acc=%.2f Query=%.2f  (%dms)\n",
			res.Outcome, res.Accuracy, res.QueryMatch, res.ElapsedMs)
		if !res.OutcomeMatch {
			fmt.Fprintf(&b, "  Expected outcome %s\n", res.ExpectedOutcome)
		}
	}
	return b.String()
}
