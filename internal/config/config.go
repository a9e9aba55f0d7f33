package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// LLM and embedding providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `validate:"required"`
	SurrealDBNamespace string `validate:"required"`
	SurrealDBDatabase  string `validate:"required"`
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string `validate:"oneof=root database"`

	// LLM used by the reviewer and the extractor
	LLMProvider     string `validate:"oneof=ollama openai anthropic bedrock"`
	LLMModel        string `validate:"required"`
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Embeddings used by the semantic linker
	EmbedProvider  string `validate:"oneof=ollama openai bedrock"`
	EmbedModel     string `validate:"required"`
	EmbedDimension int    `validate:"min=1"`

	// Workspace layout root
	Root string `validate:"required"`

	// Lineage stamped on every published record
	LineageRepo string
	LineageRef  string

	// Timeouts and retries for blocking calls
	LLMTimeout    time.Duration `validate:"min=1"`
	DBTimeout     time.Duration `validate:"min=1"`
	StepTimeout   time.Duration `validate:"min=1"`
	RetryAttempts int           `validate:"min=1,max=10"`
	LockTTL       time.Duration `validate:"min=1"`

	// Minimum cosine similarity for semantic links
	LinkThreshold float64 `validate:"gt=0,lte=1"`

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "methodkb"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "methodologies"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     strings.ToLower(getEnv("METHODKB_LLM_PROVIDER", ProviderOllama)),
		LLMModel:        getEnv("METHODKB_LLM_MODEL", "qwen2.5:7b"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "eu-central-1"),

		EmbedProvider:  strings.ToLower(getEnv("METHODKB_EMBED_PROVIDER", ProviderOllama)),
		EmbedModel:     getEnv("METHODKB_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getInt("METHODKB_EMBED_DIMENSION", 384),

		Root: getEnv("METHODKB_ROOT", "."),

		LineageRepo: getEnv("METHODKB_LINEAGE_REPO", "financial-methodologies-kb"),
		LineageRef:  getEnv("METHODKB_LINEAGE_REF", "main"),

		LLMTimeout:    getDuration("METHODKB_LLM_TIMEOUT", 120*time.Second),
		DBTimeout:     getDuration("METHODKB_DB_TIMEOUT", 30*time.Second),
		StepTimeout:   getDuration("METHODKB_STEP_TIMEOUT", 30*time.Minute),
		RetryAttempts: getInt("METHODKB_RETRY_ATTEMPTS", 3),
		LockTTL:       getDuration("METHODKB_LOCK_TTL", 6*time.Hour),

		LinkThreshold: getFloat("METHODKB_LINK_THRESHOLD", 0.55),

		LogFile:  getEnv("METHODKB_LOG_FILE", "/tmp/methodkb.log"),
		LogLevel: parseLogLevel(getEnv("METHODKB_LOG_LEVEL", "INFO")),
	}
}

// Validate checks the configuration against its struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Layout returns the workspace layout rooted at Root.
func (c Config) Layout() Layout {
	return Layout{Root: c.Root}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
