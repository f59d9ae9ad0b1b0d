package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// similarChunksQuery ranks chunks by L2 distance to $1, matching the
// ivfflat index built by database.EnsureRAGSchema.
const similarChunksQuery = `
SELECT
    rc.id                                   AS chunk_id,
    rc.document_id                          AS document_id,
    COALESCE(rd.title, '')                  AS title,
    rd.source_path                          AS path,
    rc.page                                 AS page,
    rc.content                              AS content,
    1 / (1 + (rc.embedding <-> $1::vector)) AS score
FROM rag_chunks rc
JOIN rag_documents rd ON rd.id = rc.document_id
ORDER BY rc.embedding <-> $1::vector
LIMIT $2`

type VectorStore interface {
	SimilarChunks(ctx context.Context, embedding []float32, limit int) ([]ChunkResult, error)
}

type PostgresVectorStore struct {
	pool *pgxpool.Pool
}

func NewPostgresVectorStore(pool *pgxpool.Pool) *PostgresVectorStore {
	return &PostgresVectorStore{pool: pool}
}

// SimilarChunks returns up to limit chunks, closest first. The ivfflat probe
// count grows with limit and is scoped to the search transaction so pooled
// connections keep their defaults.
func (s *PostgresVectorStore) SimilarChunks(ctx context.Context, embedding []float32, limit int) (results []ChunkResult, err error) {
	switch {
	case s.pool == nil:
		return nil, errors.New("postgres pool is nil")
	case len(embedding) == 0:
		return nil, errors.New("embedding is empty")
	}
	if limit <= 0 {
		limit = defaultTopK
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin search transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes(limit))); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := tx.Query(ctx, similarChunksQuery, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	results, err = pgx.CollectRows(rows, pgx.RowToStructByName[ChunkResult])
	if err != nil {
		return nil, fmt.Errorf("collect similar chunks: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit search transaction: %w", err)
	}
	return results, nil
}

func probes(limit int) int {
	return max(limit*10, 10)
}

var _ VectorStore = (*PostgresVectorStore)(nil)
