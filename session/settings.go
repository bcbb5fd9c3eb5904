// Package session manages chat sessions: per-session settings, the chain
// built from them and the transcript of each conversation.
package session

import (
	"errors"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/validate"
)

// DefaultModel is the instruction model every stage uses unless configured.
const DefaultModel = "mistralai/Mistral-7B-Instruct-v0.2"

// SuggestedModels are the Hugging Face models offered by the chat settings.
var SuggestedModels = []string{
	"databricks/dbrx-instruct",
	"mistralai/Mixtral-8x7B-Instruct-v0.1",
	"stabilityai/stable-code-instruct-3b",
	DefaultModel,
}

// Settings are the user-facing knobs of one session. A change always
// produces a new chain.
type Settings struct {
	QAModel string `json:"qa_model" yaml:"qa_model" toml:"qa_model" validate:"required"`

	// CypherModel and ValidateModel fall back to QAModel when empty.
	CypherModel   string `json:"cypher_model,omitempty" yaml:"cypher_model,omitempty" toml:"cypher_model,omitempty"`
	ValidateModel string `json:"validate_model,omitempty" yaml:"validate_model,omitempty" toml:"validate_model,omitempty"`
	Task          string `json:"task" yaml:"task" toml:"task" validate:"omitempty,oneof=text-generation code-completion"`

	Temperature       float64 `json:"temperature" yaml:"temperature" toml:"temperature" validate:"gte=0,lte=2"`
	TopK              int     `json:"top_k" yaml:"top_k" toml:"top_k" validate:"gte=0,lte=100"`
	MaxNewTokens      int     `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens" validate:"gte=1,lte=4096"`
	RepetitionPenalty float64 `json:"repetition_penalty" yaml:"repetition_penalty" toml:"repetition_penalty" validate:"gte=0,lte=10"`

	AgentName string `json:"agent_name" yaml:"agent_name" toml:"agent_name"`

	IncludeTypes []string `json:"include_types,omitempty" yaml:"include_types,omitempty" toml:"include_types,omitempty"`
	ExcludeTypes []string `json:"exclude_types,omitempty" yaml:"exclude_types,omitempty" toml:"exclude_types,omitempty"`

	// ResultLimit caps the graph rows handed to the answer stage.
	ResultLimit int `json:"result_limit" yaml:"result_limit" toml:"result_limit" validate:"gte=1,lte=1000"`

	ValidateQuery           bool `json:"validate_query" yaml:"validate_query" toml:"validate_query"`
	SafetyCheck             bool `json:"safety_check" yaml:"safety_check" toml:"safety_check"`
	ReturnIntermediateSteps bool `json:"return_intermediate_steps" yaml:"return_intermediate_steps" toml:"return_intermediate_steps"`
	ReturnDirect            bool `json:"return_direct" yaml:"return_direct" toml:"return_direct"`
}

// DefaultSettings mirrors the chat defaults the assistant ships with.
func DefaultSettings() Settings {
	return Settings{
		QAModel:           DefaultModel,
		CypherModel:       DefaultModel,
		ValidateModel:     DefaultModel,
		Task:              llm.TaskTextGeneration,
		Temperature:       0.1,
		TopK:              1,
		MaxNewTokens:      245,
		RepetitionPenalty: 0.1,
		AgentName:         "NTeALan Bot",
		ResultLimit:       chain.DefaultTopK,
		ValidateQuery:     true,
	}
}

// ValidationError reports settings rejected by Validate.
type ValidationError struct {
	Err error
}

func (e ValidationError) Error() string { return "invalid settings: " + e.Err.Error() }

func (e ValidationError) Unwrap() error { return e.Err }

// Validate checks field ranges and that at most one type filter is set.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return ValidationError{Err: err}
	}
	if len(s.IncludeTypes) > 0 && len(s.ExcludeTypes) > 0 {
		return ValidationError{Err: errors.New("include_types cannot be combined with exclude_types")}
	}
	return nil
}

// params is the sampling bundle shared by every stage.
func (s Settings) params() *chain.Params {
	temperature := s.Temperature
	penalty := s.RepetitionPenalty
	return &chain.Params{
		Temperature:       &temperature,
		MaxTokens:         s.MaxNewTokens,
		TopK:              s.TopK,
		RepetitionPenalty: &penalty,
	}
}
