package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/database"
)

type fixedEmbedder struct {
	dim   int
	calls int
}

func (e *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

func TestIngestDirectoryIsIncremental(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}

	cfg := config.Load()
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	root := t.TempDir()
	folder := "it-" + uuid.NewString()
	require.NoError(t, os.MkdirAll(filepath.Join(root, folder), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, folder, "leave.md"),
		[]byte("# Leave\n\nEmployees get 20 days of paid leave.\n\nRequests go to HR."), 0o644))

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DELETE FROM rag_documents WHERE folder = $1", folder)
	})

	embedder := &fixedEmbedder{dim: cfg.Embeddings.Dimension}
	svc := NewService(pool, nil, embedder, nil, cfg.Embeddings.Dimension, NewChunker(cfg.ChunkSize, cfg.ChunkOverlap))

	report, err := svc.IngestDirectory(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, Report{Ingested: 1}, report)

	var title, format string
	var chunks int
	err = pool.QueryRow(ctx, `
		SELECT d.title, d.format, count(c.id)
		FROM rag_documents d JOIN rag_chunks c ON c.document_id = d.id
		WHERE d.folder = $1
		GROUP BY d.title, d.format
	`, folder).Scan(&title, &format, &chunks)
	require.NoError(t, err)
	assert.Equal(t, "Leave", title)
	assert.Equal(t, string(FormatMarkdown), format)
	assert.Positive(t, chunks)

	report, err = svc.IngestDirectory(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, Report{Unchanged: 1}, report)
	assert.Equal(t, 1, embedder.calls)
}
