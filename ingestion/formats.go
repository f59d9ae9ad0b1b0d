// Package ingestion loads documents from a directory tree into the vector
// index and the knowledge graph.
package ingestion

import (
	"path/filepath"
	"strings"
)

type DocumentFormat string

const (
	FormatUnknown  DocumentFormat = ""
	FormatMarkdown DocumentFormat = "markdown"
	FormatText     DocumentFormat = "text"
	FormatPDF      DocumentFormat = "pdf"
	FormatCSV      DocumentFormat = "csv"
)

// DocumentPayload is a raw file read from the data directory. Path is
// relative to the directory root and uses forward slashes.
type DocumentPayload struct {
	Path   string
	Format DocumentFormat
	Data   []byte
}

// DetectFormat infers a document format from the file extension.
func DetectFormat(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt":
		return FormatText
	case ".pdf":
		return FormatPDF
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}
