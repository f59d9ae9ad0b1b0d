package ingestion

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits text into overlapping pieces of roughly Size characters.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split packs paragraphs into chunks. A paragraph longer than Size is cut
// on rune boundaries. Consecutive chunks share up to Overlap trailing
// characters.
func (c Chunker) Split(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var pieces []string
	for _, paragraph := range strings.Split(content, "\n\n") {
		p := strings.TrimSpace(paragraph)
		if p == "" {
			continue
		}
		pieces = append(pieces, c.cut(p)...)
	}
	return c.pack(pieces)
}

// SplitParagraphs packs pre-split paragraphs without re-splitting on blank
// lines.
func (c Chunker) SplitParagraphs(paragraphs []string) []string {
	var pieces []string
	for _, paragraph := range paragraphs {
		if p := strings.TrimSpace(paragraph); p != "" {
			pieces = append(pieces, c.cut(p)...)
		}
	}
	return c.pack(pieces)
}

func (c Chunker) pack(pieces []string) []string {
	var (
		chunks  []string
		current strings.Builder
	)
	for _, piece := range pieces {
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+2+utf8.RuneCountInString(piece) > c.Size {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			if tail := c.tail(chunk); tail != "" && utf8.RuneCountInString(tail)+2+utf8.RuneCountInString(piece) <= c.Size {
				current.WriteString(tail)
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func (c Chunker) cut(paragraph string) []string {
	runes := []rune(paragraph)
	if len(runes) <= c.Size {
		return []string{paragraph}
	}

	step := c.Size - c.Overlap
	var parts []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.Size, len(runes))
		parts = append(parts, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return parts
}

func (c Chunker) tail(chunk string) string {
	if c.Overlap == 0 {
		return ""
	}
	runes := []rune(chunk)
	if len(runes) <= c.Overlap {
		return ""
	}
	return strings.TrimSpace(string(runes[len(runes)-c.Overlap:]))
}
