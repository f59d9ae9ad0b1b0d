package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/embeddings"
	"github.com/fabfab/docsearch/llm"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

type stubVectorStore struct {
	results []ChunkResult
	err     error
	limit   int
}

func (s *stubVectorStore) SimilarChunks(ctx context.Context, embedding []float32, limit int) ([]ChunkResult, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

var _ VectorStore = (*stubVectorStore)(nil)

type stubGraphStore struct {
	data map[string]DocumentInsight
	err  error
}

func (s *stubGraphStore) DocumentInsights(ctx context.Context, docIDs []string) (map[string]DocumentInsight, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

var _ GraphStore = (*stubGraphStore)(nil)

type stubLLM struct {
	answer   string
	err      error
	received []llm.Message
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.received = messages
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

var _ llm.Client = (*stubLLM)(nil)

type stubStreamLLM struct {
	stubLLM
	pieces []string
}

func (s *stubStreamLLM) GenerateStream(ctx context.Context, messages []llm.Message, fn func(string) error) error {
	s.received = messages
	for _, piece := range s.pieces {
		if err := fn(piece); err != nil {
			return err
		}
	}
	return s.err
}

var _ llm.StreamClient = (*stubStreamLLM)(nil)

func vacationChunks() []ChunkResult {
	return []ChunkResult{
		{ChunkID: "c1", DocumentID: "doc-1", Title: "Leave policy", Path: "hr/leave.pdf", Page: 3, Content: "Employees receive 20 days of paid vacation.", Score: 0.9},
		{ChunkID: "c2", DocumentID: "doc-2", Title: "Handbook", Path: "hr/handbook.md", Content: "Vacation requests go through the HR portal.", Score: 0.7},
	}
}

func TestSearchReturnsDocumentsInOrder(t *testing.T) {
	vectors := &stubVectorStore{results: vacationChunks()}
	r := NewRetriever(
		vectors,
		&stubGraphStore{data: map[string]DocumentInsight{"doc-1": {ChunkCount: 4, Folders: []string{"hr"}}}},
		&stubEmbedder{vectors: [][]float32{{0.1, 0.2}}},
		&stubLLM{},
		nil,
	)

	docs, err := r.Search(context.Background(), "vacation policy", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 2, vectors.limit)
	assert.Equal(t, "hr/leave.pdf", docs[0].Path)
	assert.Equal(t, 3, docs[0].Page)
	assert.Equal(t, 4, docs[0].Insight.ChunkCount)
	assert.Equal(t, "hr/handbook.md", docs[1].Path)
}

func TestSearchToleratesGraphFailure(t *testing.T) {
	r := NewRetriever(
		&stubVectorStore{results: vacationChunks()},
		&stubGraphStore{err: errors.New("neo4j down")},
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{},
		nil,
	)

	docs, err := r.Search(context.Background(), "vacation", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSearchValidatesQuery(t *testing.T) {
	r := NewRetriever(&stubVectorStore{}, nil, &stubEmbedder{}, &stubLLM{}, nil)
	_, err := r.Search(context.Background(), "   ", 5)
	require.Error(t, err)
}

func TestSearchPropagatesEmbedderError(t *testing.T) {
	r := NewRetriever(&stubVectorStore{}, nil, &stubEmbedder{err: errors.New("quota exceeded")}, &stubLLM{}, nil)
	_, err := r.Search(context.Background(), "vacation", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestSearchNoResults(t *testing.T) {
	r := NewRetriever(&stubVectorStore{}, nil, &stubEmbedder{vectors: [][]float32{{0.1}}}, &stubLLM{}, nil)
	docs, err := r.Search(context.Background(), "vacation", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAnswerSendsHistoryAndContext(t *testing.T) {
	model := &stubLLM{answer: "  20 days [Source 1]  "}
	r := NewRetriever(nil, nil, nil, model, nil)

	docs := toDocuments(vacationChunks(), nil)
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}

	answer, err := r.Answer(context.Background(), "how many vacation days?", docs, history)
	require.NoError(t, err)
	assert.Equal(t, "20 days [Source 1]", answer)

	require.Len(t, model.received, 4)
	assert.Equal(t, llm.RoleSystem, model.received[0].Role)
	assert.Contains(t, model.received[0].Content, config.NoMatchAnswer)
	assert.Equal(t, "hi", model.received[1].Content)
	last := model.received[3].Content
	assert.Contains(t, last, "how many vacation days?")
	assert.Contains(t, last, "Source 1: Leave policy (hr/leave.pdf) page 3")
	assert.Contains(t, last, "Source 2: Handbook (hr/handbook.md)\n")
}

func TestAnswerRejectsEmptyModelOutput(t *testing.T) {
	r := NewRetriever(nil, nil, nil, &stubLLM{answer: "  "}, nil)
	_, err := r.Answer(context.Background(), "q", nil, nil)
	require.Error(t, err)
}

func TestExcerptTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("休", 400)
	got := excerpt(long)
	assert.True(t, strings.HasSuffix(got, excerptEllipsis))
	assert.LessOrEqual(t, len(got), maxExcerptLength+len(excerptEllipsis))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(got, excerptEllipsis)))
}

func TestAnswerStreamDeliversPieces(t *testing.T) {
	model := &stubStreamLLM{pieces: []string{"Employees get ", "20 days", " [Source 1]. "}}
	r := NewRetriever(nil, nil, nil, model, nil)

	var got []string
	answer, err := r.AnswerStream(context.Background(), "vacation?", toDocuments(vacationChunks(), nil), nil, func(piece string) error {
		got = append(got, piece)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Employees get 20 days [Source 1].", answer)
	assert.Equal(t, model.pieces, got)
	require.NotEmpty(t, model.received)
	assert.Equal(t, llm.RoleSystem, model.received[0].Role)
}

func TestAnswerStreamStopsWhenReceiverFails(t *testing.T) {
	model := &stubStreamLLM{pieces: []string{"a", "b"}}
	r := NewRetriever(nil, nil, nil, model, nil)
	gone := errors.New("client disconnected")

	_, err := r.AnswerStream(context.Background(), "q", nil, nil, func(string) error { return gone })
	assert.ErrorIs(t, err, gone)
}

func TestAnswerStreamFallsBackToGenerate(t *testing.T) {
	r := NewRetriever(nil, nil, nil, &stubLLM{answer: " 20 days "}, nil)

	var got []string
	answer, err := r.AnswerStream(context.Background(), "q", nil, nil, func(piece string) error {
		got = append(got, piece)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "20 days", answer)
	assert.Equal(t, []string{" 20 days "}, got)
}

func TestProbesScaleWithLimit(t *testing.T) {
	assert.Equal(t, 10, probes(1))
	assert.Equal(t, 50, probes(5))
}

func TestSimilarChunksRequiresPool(t *testing.T) {
	_, err := NewPostgresVectorStore(nil).SimilarChunks(context.Background(), []float32{0.1}, 3)
	require.Error(t, err)
}
