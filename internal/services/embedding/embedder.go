package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/huangang/trackersync/internal/config"
	"github.com/ollama/ollama/api"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(cfg *config.EmbeddingConfig) (*OllamaEmbedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	return &OllamaEmbedder{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
	}, nil
}

func (e *OllamaEmbedder) Model() string {
	return e.model
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama embed error: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("Ollama returned no embeddings")
	}

	vector := make([]float64, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		vector[i] = float64(v)
	}
	return vector, nil
}
