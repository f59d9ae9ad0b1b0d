package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (*ParsedDocument, error)
}

// ChunkFragment is one chunk of a parsed document. Page is 1-based for
// paged formats and 0 otherwise.
type ChunkFragment struct {
	Text string
	Page int
}

type ParsedDocument struct {
	Title     string
	Fragments []ChunkFragment
}

// ParserFor returns the parser for format, or nil when the format is not
// supported.
func ParserFor(format DocumentFormat, chunker Chunker) DocumentParser {
	switch format {
	case FormatMarkdown:
		return markdownParser{chunker: chunker}
	case FormatText:
		return textParser{chunker: chunker}
	case FormatPDF:
		return pdfParser{chunker: chunker}
	case FormatCSV:
		return csvParser{chunker: chunker}
	default:
		return nil
	}
}

type markdownParser struct{ chunker Chunker }

func (p markdownParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	content := string(payload.Data)
	return &ParsedDocument{
		Title:     ExtractTitle(content, baseName(payload.Path)),
		Fragments: fragments(p.chunker.Split(content), 0),
	}, nil
}

type textParser struct{ chunker Chunker }

func (p textParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	content := normalizePlainText(string(payload.Data))
	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(payload.Path)
	}
	return &ParsedDocument{
		Title:     title,
		Fragments: fragments(p.chunker.Split(content), 0),
	}, nil
}

type pdfParser struct{ chunker Chunker }

// Parse chunks each page separately so every fragment knows its page.
func (p pdfParser) Parse(ctx context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var (
		title string
		frags []ChunkFragment
	)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", i, err)
		}
		text = normalizePlainText(text)
		if title == "" {
			title = firstNonEmptyLine(text)
		}
		frags = append(frags, fragments(p.chunker.Split(text), i)...)
	}

	if title == "" {
		title = baseName(payload.Path)
	}
	return &ParsedDocument{Title: title, Fragments: frags}, nil
}

type csvParser struct{ chunker Chunker }

// Parse turns each row into a "header: value" paragraph.
func (p csvParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	reader := csv.NewReader(bytes.NewReader(payload.Data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	title := baseName(payload.Path)
	if len(records) == 0 {
		return &ParsedDocument{Title: title}, nil
	}

	headers := records[0]
	rows := records[1:]
	paragraphs := make([]string, 0, len(rows))
	for idx, row := range rows {
		paragraphs = append(paragraphs, formatCSVRow(headers, row, idx))
	}

	return &ParsedDocument{
		Title:     title,
		Fragments: fragments(p.chunker.SplitParagraphs(paragraphs), 0),
	}, nil
}

func fragments(chunks []string, page int) []ChunkFragment {
	out := make([]ChunkFragment, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, ChunkFragment{Text: chunk, Page: page})
	}
	return out
}

// ExtractTitle returns the first markdown heading, or fallback.
func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); title != "" {
				return title
			}
		}
	}
	return fallback
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := min(len(headers), len(row))
	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(row[i]))
	}

	for i := len(headers); i < len(row); i++ {
		builder.WriteString(fmt.Sprintf("\nExtra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}
