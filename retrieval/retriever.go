// Package retrieval implements the document retrieval backend: similarity
// search over the vector index, folder insights from the knowledge graph and
// grounded answer generation.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/embeddings"
	"github.com/fabfab/docsearch/llm"
)

const (
	defaultTopK      = 5
	maxExcerptLength = 500
	excerptEllipsis  = "..."
	contextSeparator = "\n\n"
)

type Retriever struct {
	vectors  VectorStore
	graph    GraphStore
	embedder embeddings.Embedder
	llm      llm.Client
	logger   *zap.Logger
}

// NewRetriever wires the retrieval backend. graph may be nil, in which case
// documents carry no insights.
func NewRetriever(vectors VectorStore, graph GraphStore, embedder embeddings.Embedder, llmClient llm.Client, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		vectors:  vectors,
		graph:    graph,
		embedder: embedder,
		llm:      llmClient,
		logger:   logger,
	}
}

// Search returns up to limit document references ordered by similarity.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	if r.vectors == nil {
		return nil, fmt.Errorf("vector store is not configured")
	}
	if limit <= 0 {
		limit = defaultTopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	chunks, err := r.vectors.SimilarChunks(ctx, vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	insights := map[string]DocumentInsight{}
	if r.graph != nil {
		docIDs := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			docIDs = append(docIDs, chunk.DocumentID)
		}
		found, insightErr := r.graph.DocumentInsights(ctx, unique(docIDs))
		if insightErr != nil {
			r.logger.Warn("graph insights unavailable", zap.Error(insightErr))
		} else {
			insights = found
		}
	}

	return toDocuments(chunks, insights), nil
}

// Answer asks the language model to answer query from docs. history holds
// earlier turns of the conversation, oldest first.
func (r *Retriever) Answer(ctx context.Context, query string, docs []Document, history []llm.Message) (string, error) {
	if r.llm == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	messages := BuildMessages(query, docs, history)
	answer, err := r.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("llm returned an empty answer")
	}
	return answer, nil
}

// AnswerStream is Answer with the reply delivered to fn piece by piece as
// the model produces it.
func (r *Retriever) AnswerStream(ctx context.Context, query string, docs []Document, history []llm.Message, fn func(piece string) error) (string, error) {
	if r.llm == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	reply, err := llm.Stream(ctx, r.llm, BuildMessages(query, docs, history), fn)
	if err != nil {
		return "", fmt.Errorf("llm generate stream: %w", err)
	}
	answer := strings.TrimSpace(reply)
	if answer == "" {
		return "", fmt.Errorf("llm returned an empty answer")
	}
	return answer, nil
}

// BuildMessages assembles the prompt sent to the model for a grounded answer.
func BuildMessages(query string, docs []Document, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: formatUserPrompt(query, buildContextPrompt(docs))})
	return messages
}

func toDocuments(chunks []ChunkResult, insights map[string]DocumentInsight) []Document {
	docs := make([]Document, 0, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		docs = append(docs, Document{
			DocumentID: chunk.DocumentID,
			Title:      chunk.Title,
			Path:       chunk.Path,
			Page:       chunk.Page,
			Excerpt:    excerpt(chunk.Content),
			Score:      chunk.Score,
			Insight:    insights[chunk.DocumentID],
		})
	}
	return docs
}

func excerpt(content string) string {
	snippet := strings.TrimSpace(content)
	if len(snippet) <= maxExcerptLength {
		return snippet
	}
	cut := maxExcerptLength
	// Back off to a rune boundary.
	for cut > 0 && !isRuneStart(snippet[cut]) {
		cut--
	}
	return snippet[:cut] + excerptEllipsis
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func buildContextPrompt(docs []Document) string {
	var sb strings.Builder
	for idx := range docs {
		doc := &docs[idx]
		sb.WriteString(fmt.Sprintf("Source %d: %s (%s)", idx+1, doc.Title, doc.Path))
		if doc.Page > 0 {
			sb.WriteString(fmt.Sprintf(" page %d", doc.Page))
		}
		sb.WriteString("\n")
		if len(doc.Insight.Folders) > 0 {
			sb.WriteString("Folders: " + strings.Join(doc.Insight.Folders, ", ") + "\n")
		}
		sb.WriteString(doc.Excerpt)
		sb.WriteString(contextSeparator)
	}
	return sb.String()
}

func systemPrompt() string {
	return "You answer employees' questions using only the supplied excerpts from internal company documents. " +
		"Cite the Source numbers you used in brackets (e.g., [Source 1]). " +
		"Answer in the language of the question, as concisely and precisely as the documents allow. " +
		"If the excerpts do not contain the answer, reply with exactly this sentence and nothing else: " +
		config.NoMatchAnswer
}

func formatUserPrompt(question, context string) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	if strings.TrimSpace(context) != "" {
		sb.WriteString("\n\nDocument excerpts:\n")
		sb.WriteString(context)
	}
	sb.WriteString("\nProvide your answer in markdown. Begin with the direct answer.")
	return sb.String()
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
