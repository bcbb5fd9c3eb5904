package llm

import (
	"context"
	"fmt"
)

// ollamaProvider completes through Ollama's OpenAI-compatible endpoint and
// embeds through the native batched /api/embed.
type ollamaProvider struct {
	*compatProvider
}

// NewOllama creates a provider for Ollama, by default on localhost:11434.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{newCompat(cfg, "/v1", true)}
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var reply struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := p.postJSON(ctx, "/api/embed", embeddingsBody{Model: p.cfg.Model, Input: texts}, &reply)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(reply.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(reply.Embeddings), len(texts))
	}
	return reply.Embeddings, nil
}
