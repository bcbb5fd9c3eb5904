package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// compatProvider speaks the OpenAI chat completions and embeddings API.
// extended adds top_k and repetition_penalty, which only local servers
// and OpenRouter accept.
type compatProvider struct {
	*transport
	prefix   string
	extended bool
}

func newCompat(cfg Config, prefix string, extended bool) *compatProvider {
	return &compatProvider{transport: newTransport(cfg), prefix: prefix, extended: extended}
}

// NewOpenAICompat creates a provider for any OpenAI-compatible server at
// cfg.BaseURL.
func NewOpenAICompat(cfg Config) Provider {
	return newCompat(cfg, "/v1", true)
}

type completionBody struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Temperature       float64   `json:"temperature,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	Stop              []string  `json:"stop,omitempty"`
	TopK              int       `json:"top_k,omitempty"`
	RepetitionPenalty float64   `json:"repetition_penalty,omitempty"`
}

type completionReply struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		Prompt     int `json:"prompt_tokens"`
		Completion int `json:"completion_tokens"`
		Total      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := completionBody{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	if body.Model == "" {
		body.Model = p.cfg.Model
	}
	if p.extended {
		body.TopK = req.TopK
		body.RepetitionPenalty = req.RepetitionPenalty
	}

	var reply completionReply
	if err := p.postJSON(ctx, p.prefix+"/chat/completions", body, &reply); err != nil {
		return nil, err
	}
	if len(reply.Choices) == 0 {
		return nil, errors.New("llm: completion has no choices")
	}
	first := reply.Choices[0]
	p.logger.Debug("llm: completion",
		zap.String("model", reply.Model),
		zap.String("finish", first.FinishReason),
		zap.Int("tokens", reply.Usage.Total))

	return &ChatResponse{
		Content:          first.Message.Content,
		Model:            reply.Model,
		FinishReason:     first.FinishReason,
		PromptTokens:     reply.Usage.Prompt,
		CompletionTokens: reply.Usage.Completion,
		TotalTokens:      reply.Usage.Total,
	}, nil
}

type embeddingsBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsReply struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var reply embeddingsReply
	if err := p.postJSON(ctx, p.prefix+"/embeddings", embeddingsBody{Model: p.cfg.Model, Input: texts}, &reply); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range reply.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
