// Package embeddings turns text into vectors for the document index.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/docsearch/config"
)

var (
	ErrMissingAPIKey     = errors.New("OPENAI_API_KEY not set")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options selects and configures one embedding backend. A positive
// Dimension makes the embedder reject vectors of any other length, since
// the vector column has a fixed width.
type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

var providers = map[string]func(Options) (Embedder, error){
	config.ProviderOllama: func(opts Options) (Embedder, error) {
		return NewOllamaEmbedder(opts), nil
	},
	config.ProviderOpenAI: func(opts Options) (Embedder, error) {
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected: %w", ErrMissingAPIKey)
		}
		return NewOpenAIEmbedder(opts), nil
	},
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := OptionsFromConfig(cfg)
	build, ok := providers[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
	return build(opts)
}

func checkDimension(provider string, want int, vec []float32) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%s: %w: expected %d, got %d", provider, ErrDimensionMismatch, want, len(vec))
	}
	return nil
}
