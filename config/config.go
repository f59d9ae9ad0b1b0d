package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type LLMConfig struct {
	Provider string
	Model    string
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LogConfig struct {
	Dir   string
	Level string
}

type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Log        LogConfig

	DataDir      string
	HTTPAddr     string
	TopK         int
	DefaultMode  string
	SessionTTL   time.Duration
	ChunkSize    int
	ChunkOverlap int
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/docsearch?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		LLM: LLMConfig{
			Provider: strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			Model:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		Log: LogConfig{
			Dir:   getEnv("LOG_DIR", "./logs"),
			Level: getEnv("LOG_LEVEL", "info"),
		},

		DataDir:      getEnv("DATA_DIR", "./data"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		TopK:         getEnvInt("RETRIEVAL_TOP_K", 5),
		DefaultMode:  getEnv("DEFAULT_MODE", ModeDocumentSearch),
		SessionTTL:   getEnvDuration("SESSION_TTL", time.Hour),
		ChunkSize:    getEnvInt("CHUNK_SIZE", 500),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 50),
	}
}

// Validate reports missing secrets and inconsistent settings. It is run by
// the initializer, not by Load, so that the UI can surface the problem.
func (c Config) Validate() error {
	var problems []string

	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			problems = append(problems, "OPENAI_API_KEY is not set")
		}
	case ProviderOllama:
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}

	switch c.Embeddings.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.LLM.Provider != ProviderOpenAI {
			problems = append(problems, "OPENAI_API_KEY is required for openai embeddings")
		}
	case ProviderOllama:
	default:
		problems = append(problems, fmt.Sprintf("unknown embedding provider %q", c.Embeddings.Provider))
	}

	if c.Embeddings.Dimension <= 0 {
		problems = append(problems, "EMBEDDING_DIMENSION must be positive")
	}
	if c.TopK <= 0 {
		problems = append(problems, "RETRIEVAL_TOP_K must be positive")
	}
	if c.DefaultMode != ModeDocumentSearch && c.DefaultMode != ModeContactQA {
		problems = append(problems, fmt.Sprintf("unknown DEFAULT_MODE %q", c.DefaultMode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
