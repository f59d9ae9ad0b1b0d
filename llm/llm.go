// Package llm talks to the chat model that writes contact answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/docsearch/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrMissingAPIKey   = errors.New("OPENAI_API_KEY not set")
	ErrUnknownProvider = errors.New("unknown llm provider")
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamClient is implemented by clients that can deliver the answer in
// pieces. fn is called once per non-empty piece, in order.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, fn func(string) error) error
}

// Options selects and configures one chat model backend.
type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// OptionsFromConfig picks the chat model settings out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

var providers = map[string]func(Options) (StreamClient, error){
	config.ProviderOllama: func(opts Options) (StreamClient, error) {
		return NewOllamaClient(opts), nil
	},
	config.ProviderOpenAI: func(opts Options) (StreamClient, error) {
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected: %w", ErrMissingAPIKey)
		}
		return NewOpenAIClient(opts), nil
	},
}

func NewClient(cfg config.Config) (Client, error) {
	opts := OptionsFromConfig(cfg)
	build, ok := providers[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
	return build(opts)
}

// Stream generates a reply and hands it to fn as it arrives. Clients that
// cannot stream deliver the whole reply as one piece. The returned text is
// the full reply.
func Stream(ctx context.Context, c Client, messages []Message, fn func(string) error) (string, error) {
	streamer, ok := c.(StreamClient)
	if !ok {
		reply, err := c.Generate(ctx, messages)
		if err != nil {
			return "", err
		}
		if reply != "" {
			if err := fn(reply); err != nil {
				return "", err
			}
		}
		return reply, nil
	}

	var sb strings.Builder
	err := streamer.GenerateStream(ctx, messages, func(piece string) error {
		sb.WriteString(piece)
		return fn(piece)
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
