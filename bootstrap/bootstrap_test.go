package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/llm"
	"github.com/fabfab/docsearch/pipeline"
	"github.com/fabfab/docsearch/retrieval"
	"github.com/fabfab/docsearch/session"
)

type nopBackend struct{}

func (nopBackend) Search(ctx context.Context, query string, limit int) ([]retrieval.Document, error) {
	return nil, nil
}

func (nopBackend) Answer(ctx context.Context, query string, docs []retrieval.Document, history []llm.Message) (string, error) {
	return "", nil
}

func validConfig() config.Config {
	return config.Config{
		OpenAIAPIKey: "sk-test",
		LLM:          config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o-mini"},
		Embeddings:   config.EmbeddingsConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-3-small", Dimension: 1536},
		TopK:         5,
		DefaultMode:  config.ModeContactQA,
	}
}

func countingFactory(calls *atomic.Int32, closed *atomic.Int32) BackendFactory {
	return func(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Backend, func() error, error) {
		calls.Add(1)
		return nopBackend{}, func() error {
			closed.Add(1)
			return nil
		}, nil
	}
}

func TestInitializeSeedsSessionOnce(t *testing.T) {
	var calls, closed atomic.Int32
	initializer := New(validConfig(), countingFactory(&calls, &closed), nil)
	sess := session.New("s1")

	rt, err := initializer.Initialize(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, rt.Pipeline)
	assert.Equal(t, session.ModeContactQA, sess.Mode())
	assert.Zero(t, sess.Len())

	require.NoError(t, sess.SetMode(session.ModeDocumentSearch))
	sess.Append(session.ChatMessage{Role: session.RoleUser, Content: "hi"})

	again, err := initializer.Initialize(context.Background(), sess)
	require.NoError(t, err)
	assert.Same(t, rt, again)
	assert.Equal(t, session.ModeDocumentSearch, sess.Mode())
	assert.Equal(t, 1, sess.Len())
	assert.EqualValues(t, 1, calls.Load())
}

func TestInitializeBuildsBackendOncePerProcess(t *testing.T) {
	var calls, closed atomic.Int32
	initializer := New(validConfig(), countingFactory(&calls, &closed), nil)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := initializer.Initialize(context.Background(), session.New("s"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	require.NoError(t, initializer.Close())
	assert.EqualValues(t, 1, closed.Load())
}

func TestInitializeMissingAPIKey(t *testing.T) {
	var calls, closed atomic.Int32
	cfg := validConfig()
	cfg.OpenAIAPIKey = ""
	initializer := New(cfg, countingFactory(&calls, &closed), nil)
	sess := session.New("s1")

	_, err := initializer.Initialize(context.Background(), sess)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Zero(t, calls.Load())
	assert.False(t, sess.Seeded())
}

func TestInitializeRetriesAfterFactoryFailure(t *testing.T) {
	attempts := 0
	factory := func(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Backend, func() error, error) {
		attempts++
		if attempts == 1 {
			return nil, nil, errors.New("postgres unreachable")
		}
		return nopBackend{}, nil, nil
	}
	initializer := New(validConfig(), factory, nil)
	sess := session.New("s1")

	_, err := initializer.Initialize(context.Background(), sess)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "postgres unreachable")

	_, err = initializer.Initialize(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, initializer.Close())
}

func TestDefaultModeFallsBackToSearch(t *testing.T) {
	assert.Equal(t, session.ModeDocumentSearch, defaultMode(config.Config{DefaultMode: "nope"}))
	assert.Equal(t, session.ModeContactQA, defaultMode(config.Config{DefaultMode: config.ModeContactQA}))
}
