package ui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// HTMLRenderer turns frames into full HTML pages. Markdown written by the
// application or by the model is converted and sanitized before display.
type HTMLRenderer struct {
	page     *template.Template
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

type pageData struct {
	AppName  string
	Elements []*Element
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	r := &HTMLRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   bluemonday.UGCPolicy(),
	}

	page, err := template.New("page.html.tmpl").
		Funcs(template.FuncMap{"markdown": r.renderMarkdown}).
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	r.page = page
	return r, nil
}

func (r *HTMLRenderer) Render(w io.Writer, appName string, frame *Frame) error {
	frame.mu.Lock()
	elements := frame.Elements
	frame.mu.Unlock()

	if err := r.page.Execute(w, pageData{AppName: appName, Elements: elements}); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

func (r *HTMLRenderer) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
}
