// Package knowledge mirrors the document index into Neo4j so that search
// results can be related to their folder and sibling documents.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	ID     string
	Path   string
	Title  string
	SHA    string
	Folder string
	Format string
	Chunks []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Page  int
	Text  string
}

// SyncDocument replaces the graph view of doc: its folder link and chunk
// nodes. Folders left without documents are removed.
func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":     doc.ID,
		"path":   doc.Path,
		"title":  doc.Title,
		"sha":    doc.SHA,
		"folder": doc.Folder,
		"format": doc.Format,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.path = $path,
			    d.title = $title,
			    d.sha256 = $sha,
			    d.format = $format,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:IN_FOLDER]->(f:Folder)
			WHERE f.name <> $folder
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale folder relation: %w", err)
		}
		if doc.Folder != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (f:Folder {name: $folder})
				MERGE (d)-[:IN_FOLDER]->(f)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert folder relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for _, chunk := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.index = $chunk_index,
				    c.page = $chunk_page,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_index}]->(c)
			`, map[string]any{
				"doc_id":      doc.ID,
				"chunk_id":    chunk.ID,
				"chunk_index": chunk.Index,
				"chunk_page":  chunk.Page,
				"chunk_text":  chunk.Text,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	return run(ctx, session, `
		MATCH (f:Folder)
		WHERE NOT (f)<-[:IN_FOLDER]-(:Document)
		DELETE f
	`)
}

// Purge removes every node written by SyncDocument.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, query := range purgeQueries {
		if err := run(ctx, session, query); err != nil {
			return err
		}
	}
	return nil
}

var purgeQueries = []string{
	"MATCH (d:Document) DETACH DELETE d",
	"MATCH (c:Chunk) DETACH DELETE c",
	"MATCH (f:Folder) DETACH DELETE f",
}

func run(ctx context.Context, session neo4j.SessionWithContext, query string) error {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return fmt.Errorf("run %q: %w", query, err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("consume %q: %w", query, err)
	}
	return nil
}
