package retrieval

// ChunkResult is one row of a similarity search. Score is 1/(1+distance),
// so closer chunks score higher.
type ChunkResult struct {
	ChunkID    string  `db:"chunk_id"`
	DocumentID string  `db:"document_id"`
	Title      string  `db:"title"`
	Path       string  `db:"path"`
	Page       int     `db:"page"`
	Content    string  `db:"content"`
	Score      float64 `db:"score"`
}

type RelatedDocument struct {
	ID    string
	Title string
	Path  string
}

type DocumentInsight struct {
	ChunkCount       int
	Folders          []string
	RelatedDocuments []RelatedDocument
}

// Document is one retrieved reference. Page is 1-based for paged formats
// and 0 when the source has no pages.
type Document struct {
	DocumentID string
	Title      string
	Path       string
	Page       int
	Excerpt    string
	Score      float64
	Insight    DocumentInsight
}
