package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/docsearch/bootstrap"
	"github.com/fabfab/docsearch/pipeline"
	"github.com/fabfab/docsearch/present"
	"github.com/fabfab/docsearch/retrieval"
	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/ui"
)

type chatRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
	Limit    int    `json:"limit"`
}

type chatResponse struct {
	Mode    string       `json:"mode"`
	Answer  string       `json:"answer,omitempty"`
	Content string       `json:"content"`
	Sources []chatSource `json:"sources"`
}

type chatSource struct {
	DocumentID string              `json:"documentId"`
	Title      string              `json:"title"`
	Path       string              `json:"path"`
	Page       int                 `json:"page,omitempty"`
	Location   string              `json:"location"`
	Excerpt    string              `json:"excerpt"`
	Score      float64             `json:"score"`
	Insight    chatDocumentInsight `json:"insight"`
}

type chatDocumentInsight struct {
	ChunkCount       int                   `json:"chunkCount"`
	Folders          []string              `json:"folders"`
	RelatedDocuments []chatRelatedDocument `json:"relatedDocuments"`
}

type chatRelatedDocument struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

// handleChat answers one question without touching any browser session.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	if req.Mode == "" {
		req.Mode = s.cfg.DefaultMode
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	rt, err := s.initializer.Runtime(ctx)
	if err != nil {
		var cfgErr *bootstrap.ConfigurationError
		if errors.As(err, &cfgErr) {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	pipeReq, err := pipeline.NewRequest(mode, req.Question, nil)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.logger.Info("user input", zap.String("message", req.Question), zap.String("application_mode", string(mode)))
	resp, err := rt.Pipeline.WithTopK(req.Limit).Respond(ctx, pipeReq)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	content, err := Content(pipeReq, resp)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("assistant output", zap.String("message", content), zap.String("application_mode", string(mode)))

	s.writeJSON(w, http.StatusOK, transformChatResponse(resp, content))
}

// Content renders resp the way the chat page does and returns the text that
// would be archived for it.
func Content(req pipeline.Request, resp pipeline.Response) (string, error) {
	frame := ui.NewFrame()
	switch req.(type) {
	case pipeline.ContactQARequest:
		return present.DisplayContactResponse(frame, resp)
	default:
		return present.DisplaySearchResponse(frame, resp)
	}
}

func transformChatResponse(resp pipeline.Response, content string) chatResponse {
	converted := chatResponse{
		Mode:    string(resp.Mode),
		Answer:  resp.Answer,
		Content: content,
		Sources: make([]chatSource, len(resp.Sources)),
	}
	for i, src := range resp.Sources {
		converted.Sources[i] = chatSource{
			DocumentID: src.DocumentID,
			Title:      src.Title,
			Path:       src.Path,
			Page:       src.Page,
			Location:   present.Location(src),
			Excerpt:    src.Excerpt,
			Score:      src.Score,
			Insight:    transformInsight(src.Insight),
		}
	}
	return converted
}

func transformInsight(insight retrieval.DocumentInsight) chatDocumentInsight {
	related := make([]chatRelatedDocument, len(insight.RelatedDocuments))
	for i, doc := range insight.RelatedDocuments {
		related[i] = chatRelatedDocument{
			ID:    doc.ID,
			Title: doc.Title,
			Path:  doc.Path,
		}
	}

	return chatDocumentInsight{
		ChunkCount:       insight.ChunkCount,
		Folders:          append([]string{}, insight.Folders...),
		RelatedDocuments: related,
	}
}
