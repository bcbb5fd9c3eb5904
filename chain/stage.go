package chain

import (
	"context"
	"time"

	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/prompt"
)

// Params is the raw parameter bundle of a stage. Nil pointers and zero
// values leave the provider defaults in place.
type Params struct {
	// Prompt overrides the stage template. Setting it together with the
	// stage's explicit prompt is rejected by New.
	Prompt *prompt.Template `json:"-" yaml:"-"`

	Temperature       *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TopK              int      `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty" yaml:"repetition_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// Stage is one templated generation step bound to a model.
type Stage struct {
	Name    string
	Prompt  *prompt.Template
	Model   llm.Provider
	Params  Params
	Timeout time.Duration
}

// Generation is what a single stage call produced.
type Generation struct {
	Raw     string
	Prompt  string
	Tokens  int
	Elapsed time.Duration
}

// Generate renders the prompt with vars and sends it to the model as a single
// user turn. Failures are returned as *GenerationError.
func (s *Stage) Generate(ctx context.Context, vars map[string]string) (*Generation, error) {
	text, err := s.Prompt.Format(vars)
	if err != nil {
		return nil, &GenerationError{Stage: s.Name, Err: err}
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req := llm.ChatRequest{
		Messages:  []llm.Message{{Role: "user", Content: text}},
		MaxTokens: s.Params.MaxTokens,
		TopK:      s.Params.TopK,
		Stop:      s.Params.Stop,
	}
	if s.Params.Temperature != nil {
		req.Temperature = *s.Params.Temperature
	}
	if s.Params.RepetitionPenalty != nil {
		req.RepetitionPenalty = *s.Params.RepetitionPenalty
	}

	start := time.Now()
	resp, err := s.Model.Chat(ctx, req)
	if err != nil {
		return &Generation{Prompt: text, Elapsed: time.Since(start)}, &GenerationError{Stage: s.Name, Err: err}
	}
	return &Generation{
		Raw:     resp.Content,
		Prompt:  text,
		Tokens:  resp.TotalTokens,
		Elapsed: time.Since(start),
	}, nil
}

// newStage binds a model to an explicit prompt, the prompt in params, or the
// fallback, in that order. Both explicit prompts set is a configuration error.
func newStage(name string, model llm.Provider, explicit *prompt.Template, params *Params, fallback func() *prompt.Template, timeout time.Duration) (*Stage, error) {
	var p Params
	if params != nil {
		p = *params
	}
	if explicit != nil && p.Prompt != nil {
		return nil, configErr("%s stage: prompt given both directly and in its parameters", name)
	}

	tmpl := explicit
	if tmpl == nil {
		tmpl = p.Prompt
	}
	if tmpl == nil {
		tmpl = fallback()
	}
	p.Prompt = nil

	return &Stage{Name: name, Prompt: tmpl, Model: model, Params: p, Timeout: timeout}, nil
}
