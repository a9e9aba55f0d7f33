// Package llm provides LLM and embedding services using langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/tmc/langchaingo/embeddings"
)

// Embedder wraps langchaingo embeddings with dimension validation.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
	retry     retry.Config
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewEmbedder creates the configured embedding model. Vectors of any other
// length than cfg.EmbedDimension are rejected.
func NewEmbedder(ctx context.Context, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (*Embedder, error) {
	model, err := embeddingModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e := NewEmbedderFrom(model, cfg.EmbedModel, cfg.EmbedDimension, collector, logger)
	e.retry = e.retry.WithAttempts(cfg.RetryAttempts)
	return e, nil
}

// NewEmbedderFrom wraps an already constructed langchaingo embedder.
func NewEmbedderFrom(model embeddings.Embedder, name string, dimension int, collector *metrics.Collector, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		model:     model,
		dimension: dimension,
		modelName: name,
		retry:     retry.Default().WithRetryable(Retryable),
		metrics:   collector,
		logger:    logger,
	}
}

// WithRetry replaces the retry policy. The LLM retry predicate is kept.
func (e *Embedder) WithRetry(cfg retry.Config) *Embedder {
	e.retry = cfg.WithRetryable(Retryable)
	return e
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var vectors [][]float32
	err := retry.Do(ctx, e.retry, e.logger, metrics.OpEmbedding, func(ctx context.Context) error {
		start := time.Now()
		v, err := e.model.EmbedDocuments(ctx, texts)
		duration := time.Since(start)
		if err != nil {
			e.metrics.RecordFailure(metrics.OpEmbedding, duration)
			e.logger.Warn("embedding failed", "model", e.modelName, "texts", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
			return wrapFatalError(err)
		}
		e.metrics.RecordTiming(metrics.OpEmbedding, duration)
		vectors = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
		}
	}

	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
