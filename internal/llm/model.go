package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/tmc/langchaingo/llms"
)

const defaultMaxTokens = 4000

// Model wraps a langchaingo model with per-call timeouts, bounded retries
// and metrics.
type Model struct {
	llm       llms.Model
	modelName string
	timeout   time.Duration
	retry     retry.Config
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewModel creates the configured chat model with the configured timeout
// and attempt count.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (*Model, error) {
	model, err := chatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := NewModelFrom(model, cfg.LLMModel, collector, logger)
	m.timeout = cfg.LLMTimeout
	m.retry = m.retry.WithAttempts(cfg.RetryAttempts)
	return m, nil
}

// NewModelFrom wraps an already constructed langchaingo model.
func NewModelFrom(model llms.Model, name string, collector *metrics.Collector, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		llm:       model,
		modelName: name,
		timeout:   120 * time.Second,
		retry:     retry.Default().WithRetryable(Retryable),
		metrics:   collector,
		logger:    logger,
	}
}

// WithRetry replaces the retry policy. The LLM retry predicate is kept.
func (m *Model) WithRetry(cfg retry.Config) *Model {
	m.retry = cfg.WithRetryable(Retryable)
	return m
}

// Generate generates text based on a prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	return m.generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	})
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

func (m *Model) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	requestID := uuid.NewString()
	logger := m.logger.With("model", m.modelName, "request_id", requestID)

	var text string
	err := retry.Do(ctx, m.retry, logger, metrics.OpLLMGenerate, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		start := time.Now()
		resp, err := m.llm.GenerateContent(callCtx, messages,
			llms.WithTemperature(0),
			llms.WithMaxTokens(defaultMaxTokens),
		)
		duration := time.Since(start)
		if err != nil {
			m.metrics.RecordFailure(metrics.OpLLMGenerate, duration)
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return NewTransientError(fmt.Errorf("llm call timed out after %s: %w", m.timeout, err))
			}
			return wrapFatalError(err)
		}
		if len(resp.Choices) == 0 {
			m.metrics.RecordFailure(metrics.OpLLMGenerate, duration)
			return NewTransientError(errors.New("no response choices"))
		}

		choice := resp.Choices[0]
		in, out := tokenUsage(choice.GenerationInfo)
		m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)
		logger.Debug("llm call complete", "duration_ms", duration.Milliseconds(), "input_tokens", in, "output_tokens", out)
		text = choice.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return text, nil
}

// tokenUsage reads token counts from provider-specific generation info.
func tokenUsage(info map[string]any) (int64, int64) {
	pick := func(keys ...string) int64 {
		for _, k := range keys {
			switch v := info[k].(type) {
			case int:
				return int64(v)
			case int32:
				return int64(v)
			case int64:
				return v
			case float64:
				return int64(v)
			}
		}
		return 0
	}
	return pick("InputTokens", "PromptTokens", "input_tokens"),
		pick("OutputTokens", "CompletionTokens", "output_tokens")
}
