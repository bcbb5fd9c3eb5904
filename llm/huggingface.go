package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	TaskTextGeneration = "text-generation"
	TaskCodeCompletion = "code-completion"
)

// huggingFaceProvider calls the Hugging Face inference API (or a
// text-generation-inference server) with raw prompts.
//
// API key: set via config, HF_TOKEN or HUGGINGFACEHUB_API_TOKEN.
type huggingFaceProvider struct {
	*transport
	task string
}

// NewHuggingFace creates a provider for a Hugging Face hosted model. When
// BaseURL points at a dedicated endpoint the model path is not appended.
func NewHuggingFace(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-inference.huggingface.co"
	}
	if cfg.Model == "" {
		cfg.Model = "mistralai/Mistral-7B-Instruct-v0.2"
	}
	task := strings.TrimSpace(cfg.Task)
	if task == "" {
		task = TaskTextGeneration
	}
	return &huggingFaceProvider{transport: newTransport(cfg), task: task}
}

type hfGenerateRequest struct {
	Inputs     string            `json:"inputs"`
	Parameters hfGenerateParams  `json:"parameters"`
	Options    hfGenerateOptions `json:"options"`
}

type hfGenerateParams struct {
	MaxNewTokens      int      `json:"max_new_tokens,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty"`
	ReturnFullText    bool     `json:"return_full_text"`
}

type hfGenerateOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfGenerated struct {
	GeneratedText string `json:"generated_text"`
}

func (p *huggingFaceProvider) modelPath(pipeline string) string {
	if !strings.Contains(p.cfg.BaseURL, "api-inference.huggingface.co") {
		return ""
	}
	model := url.PathEscape(p.cfg.Model)
	model = strings.ReplaceAll(model, "%2F", "/")
	if pipeline != "" {
		return "/pipeline/" + pipeline + "/" + model
	}
	return "/models/" + model
}

func (p *huggingFaceProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	parts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		parts = append(parts, m.Content)
	}

	params := hfGenerateParams{
		MaxNewTokens: req.MaxTokens,
		Temperature:  req.Temperature,
		TopK:         req.TopK,
		Stop:         req.Stop,
	}
	// TGI rejects penalties <= 0 and values below 1 reward repetition.
	if req.RepetitionPenalty > 0 {
		params.RepetitionPenalty = max(req.RepetitionPenalty, 1.0)
	}

	p.logger.Debug("llm: huggingface generate",
		zap.String("model", p.cfg.Model),
		zap.String("task", p.task),
		zap.Int("max_new_tokens", params.MaxNewTokens),
	)
	var raw json.RawMessage
	err := p.postJSON(ctx, p.modelPath(""), hfGenerateRequest{
		Inputs:     strings.Join(parts, "\n\n"),
		Parameters: params,
		Options:    hfGenerateOptions{WaitForModel: true},
	}, &raw)
	if err != nil {
		return nil, err
	}

	text, err := decodeGenerated(raw)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Content: text, Model: p.cfg.Model}, nil
}

// decodeGenerated accepts both the hosted API's list form and a bare
// object from a dedicated endpoint.
func decodeGenerated(body []byte) (string, error) {
	var list []hfGenerated
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", fmt.Errorf("no generations in response")
		}
		return list[0].GeneratedText, nil
	}
	var one hfGenerated
	if err := json.Unmarshal(body, &one); err != nil {
		return "", fmt.Errorf("decoding generation response: %w", err)
	}
	return one.GeneratedText, nil
}

func (p *huggingFaceProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := p.postJSON(ctx, p.modelPath("feature-extraction"), map[string]any{
		"inputs":  texts,
		"options": hfGenerateOptions{WaitForModel: true},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
