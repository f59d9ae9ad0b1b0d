package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docsearch/config"
)

func TestNewClientDefaults(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOllama,
			Model:    "llama3.1:8b",
		},
		OllamaHost: "http://localhost:11434",
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestNewClientOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOpenAI,
			Model:    "gpt-4o",
		},
	}

	_, err := NewClient(cfg)
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(config.Config{LLM: config.LLMConfig{Provider: "bard"}})
	require.ErrorIs(t, err, ErrUnknownProvider)
}

type wholeReplyClient struct{ reply string }

func (c wholeReplyClient) Generate(ctx context.Context, messages []Message) (string, error) {
	return c.reply, nil
}

func TestStreamFallsBackToGenerate(t *testing.T) {
	var pieces []string
	reply, err := Stream(context.Background(), wholeReplyClient{reply: "20 days"}, nil, func(piece string) error {
		pieces = append(pieces, piece)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "20 days", reply)
	assert.Equal(t, []string{"20 days"}, pieces)
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"20 days"},"done":true}`)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3"})
	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "vacation?"}})
	require.NoError(t, err)
	assert.Equal(t, "20 days", answer)
}

func TestOllamaGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"20 "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"days"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3"})
	var sb strings.Builder
	err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, func(piece string) error {
		sb.WriteString(piece)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "20 days", sb.String())
}

func TestOllamaGenerateReportsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "missing"})
	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}
