package llm

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	bedrockembed "github.com/tmc/langchaingo/embeddings/bedrock"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrUnsupportedProvider is returned for a provider name with no client.
var ErrUnsupportedProvider = errors.New("unsupported provider")

func bedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// chatModel builds the text generation client for cfg.LLMProvider.
func chatModel(ctx context.Context, cfg config.Config) (llms.Model, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(ollama.WithModel(cfg.LLMModel), ollama.WithServerURL(cfg.OllamaHost))
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		model, err = openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithModel(cfg.LLMModel))
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey), anthropic.WithModel(cfg.LLMModel))
	case config.ProviderBedrock:
		client, cerr := bedrockClient(ctx, cfg.AWSRegion)
		if cerr != nil {
			return nil, cerr
		}
		model, err = bedrock.New(bedrock.WithClient(client), bedrock.WithModel(cfg.LLMModel))
	default:
		return nil, fmt.Errorf("%w: llm %q", ErrUnsupportedProvider, cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.LLMProvider, err)
	}
	return model, nil
}

// embeddingModel builds the embedding client for cfg.EmbedProvider.
// Anthropic has no embedding endpoint.
func embeddingModel(ctx context.Context, cfg config.Config) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient
	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		c, err := ollama.New(ollama.WithModel(cfg.EmbedModel), ollama.WithServerURL(cfg.OllamaHost))
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		client = c
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		c, err := openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithEmbeddingModel(cfg.EmbedModel))
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		client = c
	case config.ProviderBedrock:
		rt, err := bedrockClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		e, err := bedrockembed.NewBedrock(bedrockembed.WithClient(rt), bedrockembed.WithModel(cfg.EmbedModel))
		if err != nil {
			return nil, fmt.Errorf("create bedrock embedder: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: embedding %q", ErrUnsupportedProvider, cfg.EmbedProvider)
	}

	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.EmbedProvider, err)
	}
	return e, nil
}
