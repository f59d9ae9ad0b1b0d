package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/database"
	"github.com/fabfab/docsearch/embeddings"
)

// Runner opens the stores for a single ingest or clear operation and closes
// them afterwards.
type Runner struct {
	cfg    config.Config
	logger *zap.Logger
}

func NewRunner(cfg config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Ingest indexes dir, or the configured data directory when dir is empty.
func (r *Runner) Ingest(ctx context.Context, dir string) (Report, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = r.cfg.DataDir
	}

	embedder, err := embeddings.NewEmbedder(r.cfg)
	if err != nil {
		return Report{}, fmt.Errorf("embedder setup: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, r.cfg.PostgresDSN)
	if err != nil {
		return Report{}, err
	}
	defer pool.Close()

	driver := r.graph(ctx)
	if driver != nil {
		defer driver.Close(ctx)
	}

	r.logger.Info("ingesting documents",
		zap.String("dir", dir),
		zap.String("embedding_provider", r.cfg.Embeddings.Provider),
		zap.String("embedding_model", r.cfg.Embeddings.Model),
	)

	svc := NewService(pool, driver, embedder, r.logger, r.cfg.Embeddings.Dimension, NewChunker(r.cfg.ChunkSize, r.cfg.ChunkOverlap))
	report, err := svc.IngestDirectory(ctx, dir)
	if err != nil {
		return report, fmt.Errorf("ingestion failed: %w", err)
	}
	r.logger.Info("ingestion complete",
		zap.Int("ingested", report.Ingested),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Clear removes every indexed document.
func (r *Runner) Clear(ctx context.Context) error {
	pool, err := database.NewPostgresPool(ctx, r.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	driver := r.graph(ctx)
	if driver != nil {
		defer driver.Close(ctx)
	}

	if err := Clear(ctx, pool, driver); err != nil {
		return err
	}
	r.logger.Info("document index cleared", zap.Bool("graph", driver != nil))
	return nil
}

func (r *Runner) graph(ctx context.Context) neo4j.DriverWithContext {
	driver, err := database.NewNeo4jDriver(ctx, r.cfg.Neo4jURI, r.cfg.Neo4jUser, r.cfg.Neo4jPass)
	if err != nil {
		r.logger.Warn("knowledge graph unavailable, skipping graph updates", zap.Error(err))
		return nil
	}
	return driver
}
