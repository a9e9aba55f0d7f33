package llm

import (
	"context"
	"testing"

	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatModelProviderErrors(t *testing.T) {
	ctx := context.Background()

	_, err := chatModel(ctx, config.Config{LLMProvider: "gigachat", LLMModel: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = chatModel(ctx, config.Config{LLMProvider: config.ProviderOpenAI, LLMModel: "gpt-4o"})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = chatModel(ctx, config.Config{LLMProvider: config.ProviderAnthropic, LLMModel: "claude"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestEmbeddingModelProviderErrors(t *testing.T) {
	ctx := context.Background()

	_, err := embeddingModel(ctx, config.Config{EmbedProvider: config.ProviderAnthropic, EmbedModel: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider, "anthropic has no embedding endpoint")

	_, err = embeddingModel(ctx, config.Config{EmbedProvider: config.ProviderOpenAI, EmbedModel: "text-embedding-3-small"})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestNewModelAppliesConfig(t *testing.T) {
	cfg := config.Load()
	cfg.LLMProvider = config.ProviderOllama
	cfg.LLMModel = "qwen2.5"
	cfg.RetryAttempts = 5

	m, err := NewModel(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", m.Model())
	assert.Equal(t, cfg.LLMTimeout, m.timeout)
	assert.Equal(t, 5, m.retry.MaxAttempts)
}
