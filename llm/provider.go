package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider is the interface for text generation backends.
type Provider interface {
	// Chat sends a completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a completion request. Sampling fields left at their zero
// value are not sent.
type ChatRequest struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Temperature       float64   `json:"temperature,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	TopK              int       `json:"top_k,omitempty"`
	RepetitionPenalty float64   `json:"repetition_penalty,omitempty"`
	Stop              []string  `json:"stop,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider" toml:"provider"` // huggingface, ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model" toml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key" toml:"api_key"`

	// Task selects the Hugging Face pipeline: text-generation (default) or
	// code-completion.
	Task string `json:"task,omitempty" yaml:"task,omitempty" toml:"task,omitempty"`

	// MaxRetries bounds retries on transient HTTP statuses. Zero disables
	// retrying, which is what the question answering chain expects.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`

	// Timeout caps a single HTTP request. Defaults to 120s.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`

	Logger *zap.Logger `json:"-" yaml:"-" toml:"-"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "huggingface", "hf":
		return NewHuggingFace(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "lmstudio":
		return NewLMStudio(cfg), nil
	case "openrouter":
		return NewOpenRouter(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "groq":
		return NewGroq(cfg), nil
	case "xai":
		return NewXAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
