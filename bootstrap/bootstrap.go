// Package bootstrap prepares a session for use: it seeds per-session state
// and builds the process-wide retrieval pipeline on first use.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/database"
	"github.com/fabfab/docsearch/embeddings"
	"github.com/fabfab/docsearch/llm"
	"github.com/fabfab/docsearch/pipeline"
	"github.com/fabfab/docsearch/retrieval"
	"github.com/fabfab/docsearch/session"
)

// ConfigurationError reports that the application cannot start because its
// settings are missing or invalid, or a backing service is unreachable.
type ConfigurationError struct {
	Cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("initialize application: %v", e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// BackendFactory builds the retrieval backend. The returned closer releases
// whatever the backend holds open.
type BackendFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Backend, func() error, error)

// Runtime is shared by every session once initialization succeeds.
type Runtime struct {
	Config   config.Config
	Pipeline *pipeline.Pipeline
}

type Initializer struct {
	cfg     config.Config
	factory BackendFactory
	logger  *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	runtime *Runtime
	closer  func() error
}

func New(cfg config.Config, factory BackendFactory, logger *zap.Logger) *Initializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = DefaultBackendFactory
	}
	return &Initializer{cfg: cfg, factory: factory, logger: logger}
}

// Initialize makes sess ready for use. The first successful call for a
// session seeds its mode and empty conversation log; later calls leave the
// session untouched. The backend is built once per process. A failed build
// is not cached, so the next call retries it. Callers must hold the session
// lock.
func (i *Initializer) Initialize(ctx context.Context, sess *session.Session) (*Runtime, error) {
	rt, err := i.Runtime(ctx)
	if err != nil {
		return nil, err
	}

	if sess.Seed(defaultMode(i.cfg)) {
		i.logger.Info(config.AppBootMessage,
			zap.String("session_id", sess.ID),
			zap.String("application_mode", string(sess.Mode())),
		)
	}
	return rt, nil
}

// Close releases the backend, if one was built.
func (i *Initializer) Close() error {
	i.mu.Lock()
	closer := i.closer
	i.closer = nil
	i.runtime = nil
	i.mu.Unlock()

	if closer == nil {
		return nil
	}
	return closer()
}

func (i *Initializer) cached() *Runtime {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.runtime
}

// Runtime returns the shared runtime, building it on first use. It does not
// touch any session.
func (i *Initializer) Runtime(ctx context.Context) (*Runtime, error) {
	if rt := i.cached(); rt != nil {
		return rt, nil
	}

	v, err, _ := i.group.Do("runtime", func() (any, error) {
		if rt := i.cached(); rt != nil {
			return rt, nil
		}
		if err := i.cfg.Validate(); err != nil {
			return nil, &ConfigurationError{Cause: err}
		}

		backend, closer, err := i.factory(ctx, i.cfg, i.logger)
		if err != nil {
			return nil, &ConfigurationError{Cause: err}
		}

		rt := &Runtime{
			Config:   i.cfg,
			Pipeline: pipeline.New(backend, i.cfg.TopK, i.logger),
		}
		i.mu.Lock()
		i.runtime = rt
		i.closer = closer
		i.mu.Unlock()
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Runtime), nil
}

func defaultMode(cfg config.Config) session.Mode {
	mode, err := session.ParseMode(cfg.DefaultMode)
	if err != nil {
		return session.ModeDocumentSearch
	}
	return mode
}

// DefaultBackendFactory connects to Postgres and Neo4j and builds the
// retriever. A Neo4j outage only disables folder insights.
func DefaultBackendFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Backend, func() error, error) {
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create embedder: %w", err)
	}
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm client: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureRAGSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
		pool.Close()
		return nil, nil, err
	}

	var graph retrieval.GraphStore
	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Warn("knowledge graph unavailable, continuing without insights", zap.Error(err))
		driver = nil
	} else {
		graph = retrieval.NewNeo4jGraphStore(driver)
	}

	closer := func() error {
		pool.Close()
		if driver == nil {
			return nil
		}
		return driver.Close(context.Background())
	}

	retriever := retrieval.NewRetriever(retrieval.NewPostgresVectorStore(pool), graph, embedder, client, logger)
	return retriever, closer, nil
}
