package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/pricedock/pricedock/internal/config"
)

// Embedder wraps langchaingo embeddings for product-name similarity in the
// matching phase.
type Embedder struct {
	model     embeddings.Embedder
	modelName string
}

// NewEmbedder creates an Ollama-backed embedder from configuration.
func NewEmbedder(cfg config.Config) (*Embedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.EmbeddingModel),
		ollama.WithServerURL(cfg.OllamaHost),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	model, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	return &Embedder{model: model, modelName: cfg.EmbeddingModel}, nil
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.model.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}
