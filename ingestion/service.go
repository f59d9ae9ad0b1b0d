package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	stdpath "path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/database"
	"github.com/fabfab/docsearch/embeddings"
	"github.com/fabfab/docsearch/knowledge"
)

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

// Report summarizes one IngestDirectory run.
type Report struct {
	Ingested  int
	Unchanged int
	Skipped   int
	Failed    int
}

type Service struct {
	pool      *pgxpool.Pool
	driver    neo4j.DriverWithContext
	embedder  embeddings.Embedder
	logger    *zap.Logger
	dimension int
	chunker   Chunker
}

// NewService builds an ingestion service. driver may be nil, in which case
// the knowledge graph is not updated.
func NewService(pool *pgxpool.Pool, driver neo4j.DriverWithContext, embedder embeddings.Embedder, logger *zap.Logger, dimension int, chunker Chunker) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		pool:      pool,
		driver:    driver,
		embedder:  embedder,
		logger:    logger,
		dimension: dimension,
		chunker:   chunker,
	}
}

// IngestDirectory indexes every supported file under dir. A file that fails
// is logged and counted; it does not stop the run.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Report, error) {
	var report Report
	if s.embedder == nil {
		return report, fmt.Errorf("embedder not configured")
	}
	if err := database.EnsureRAGSchema(ctx, s.pool, s.dimension); err != nil {
		return report, fmt.Errorf("ensure schema: %w", err)
	}

	paths, skipped, err := CollectFiles(dir)
	if err != nil {
		return report, err
	}
	report.Skipped = skipped

	if len(paths) == 0 {
		s.logger.Warn("no supported documents found", zap.String("dir", dir))
		return report, nil
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		changed, err := s.ingestFile(ctx, dir, path)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
		case changed:
			report.Ingested++
		default:
			report.Unchanged++
		}
	}

	return report, nil
}

// CollectFiles lists supported files under dir in lexical order and counts
// the files it skipped.
func CollectFiles(dir string) ([]string, int, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, 0, fmt.Errorf("data directory: %w", err)
	}

	var (
		paths   []string
		skipped int
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) == FormatUnknown {
			skipped++
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk data directory: %w", err)
	}
	return paths, skipped, nil
}

// RelativeLocation returns path relative to root with forward slashes, and
// its folder ("" at the root).
func RelativeLocation(root, path string) (rel, folder string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	folder = stdpath.Dir(rel)
	if folder == "." || folder == "/" {
		folder = ""
	}
	return rel, folder
}

func (s *Service) ingestFile(ctx context.Context, root, path string) (changed bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}

	relPath, folder := RelativeLocation(root, path)
	format := DetectFormat(path)
	parser := ParserFor(format, s.chunker)
	if parser == nil {
		return false, fmt.Errorf("unsupported format for %s", relPath)
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])

	parsed, err := parser.Parse(ctx, DocumentPayload{Path: relPath, Format: format, Data: data})
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", relPath, err)
	}
	if len(parsed.Fragments) == 0 {
		s.logger.Info("skip empty document", zap.String("path", relPath))
		return false, nil
	}

	texts := make([]string, len(parsed.Fragments))
	for i, frag := range parsed.Fragments {
		texts[i] = frag.Text
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	docID, changed, err := upsertDocument(ctx, tx, documentRow{
		Path:   relPath,
		Title:  parsed.Title,
		Folder: folder,
		Format: string(format),
		SHA:    hashHex,
	})
	if err != nil {
		return false, err
	}
	if !changed {
		if err = tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit transaction: %w", err)
		}
		s.logger.Debug("no updates required", zap.String("path", relPath))
		return false, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return false, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(texts) {
		return false, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(texts), len(vectors))
	}

	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunks WHERE document_id = $1", docID); err != nil {
		return false, fmt.Errorf("clear existing chunks: %w", err)
	}

	chunkNodes := make([]knowledge.Chunk, 0, len(parsed.Fragments))
	for idx, frag := range parsed.Fragments {
		chunkID := uuid.New()
		chunkNodes = append(chunkNodes, knowledge.Chunk{
			ID:    chunkID.String(),
			Index: idx,
			Page:  frag.Page,
			Text:  frag.Text,
		})

		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, document_id, chunk_index, page, content, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		`, chunkID, docID, idx, frag.Page, frag.Text, pgvector.NewVector(vectors[idx])); err != nil {
			return false, fmt.Errorf("insert chunk %d: %w", idx, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	if s.driver != nil {
		doc := knowledge.Document{
			ID:     docID.String(),
			Path:   relPath,
			Title:  parsed.Title,
			SHA:    hashHex,
			Folder: folder,
			Format: string(format),
			Chunks: chunkNodes,
		}
		if err := knowledge.SyncDocument(ctx, s.driver, doc); err != nil {
			return true, fmt.Errorf("sync knowledge graph: %w", err)
		}
	}

	s.logger.Info("ingested document",
		zap.String("path", relPath),
		zap.String("format", string(format)),
		zap.Int("chunks", len(chunkNodes)),
	)
	return true, nil
}

type documentRow struct {
	Path   string
	Title  string
	Folder string
	Format string
	SHA    string
}

func upsertDocument(ctx context.Context, tx pgx.Tx, row documentRow) (uuid.UUID, bool, error) {
	var (
		docID        uuid.UUID
		existingHash string
	)

	err := tx.QueryRow(ctx, "SELECT id, sha256 FROM rag_documents WHERE source_path = $1", row.Path).Scan(&docID, &existingHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			newID := uuid.New()
			_, execErr := tx.Exec(ctx, `
				INSERT INTO rag_documents (id, source_path, title, folder, format, sha256, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			`, newID, row.Path, row.Title, row.Folder, row.Format, row.SHA)
			if execErr != nil {
				return uuid.Nil, false, fmt.Errorf("insert document: %w", execErr)
			}
			return newID, true, nil
		}
		return uuid.Nil, false, fmt.Errorf("query document: %w", err)
	}

	if existingHash == row.SHA {
		return docID, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rag_documents
		SET title = $2,
		    folder = $3,
		    format = $4,
		    sha256 = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, docID, row.Title, row.Folder, row.Format, row.SHA); err != nil {
		return uuid.Nil, false, fmt.Errorf("update document: %w", err)
	}

	return docID, true, nil
}

// Clear empties the vector index and, when driver is not nil, the
// knowledge graph.
func Clear(ctx context.Context, pool *pgxpool.Pool, driver neo4j.DriverWithContext) error {
	if _, err := pool.Exec(ctx, database.TruncateRAGTables); err != nil {
		return fmt.Errorf("truncate postgres tables: %w", err)
	}
	if driver == nil {
		return nil
	}
	if err := knowledge.Purge(ctx, driver); err != nil {
		return fmt.Errorf("clear neo4j: %w", err)
	}
	return nil
}
