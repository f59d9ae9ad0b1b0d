// Package api serves the chat application over HTTP: the rendered page,
// form posts, a websocket event loop and a JSON endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/bootstrap"
	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/ingestion"
	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/shell"
	"github.com/fabfab/docsearch/ui"
)

const (
	SessionCookie = "docsearch_session"

	maxMessageSize = 64 << 10
	writeWait      = 10 * time.Second
)

// Initializer prepares sessions and exposes the shared runtime.
type Initializer interface {
	shell.Initializer
	Runtime(ctx context.Context) (*bootstrap.Runtime, error)
}

var _ Initializer = (*bootstrap.Initializer)(nil)

// Indexer runs administrative index operations.
type Indexer interface {
	Ingest(ctx context.Context, dir string) (ingestion.Report, error)
	Clear(ctx context.Context) error
}

var _ Indexer = (*ingestion.Runner)(nil)

type Server struct {
	cfg         config.Config
	store       *session.Store
	initializer Initializer
	indexer     Indexer
	renderer    *ui.HTMLRenderer
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	handler     http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Message  string `json:"message"`
	Sessions int    `json:"sessions"`
}

type ingestRequest struct {
	Dir string `json:"dir"`
}

type ingestResponse struct {
	Message   string `json:"message"`
	Ingested  int    `json:"ingested"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type pageResponse struct {
	State    shell.State   `json:"state"`
	Elements []*ui.Element `json:"elements"`
}

// New builds the server. indexer may be nil, in which case the ingest and
// clear endpoints are not mounted.
func New(cfg config.Config, store *session.Store, initializer Initializer, indexer Indexer, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = session.NewStore(cfg.SessionTTL)
	}

	renderer, err := ui.NewHTMLRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		store:       store,
		initializer: initializer,
		indexer:     indexer,
		renderer:    renderer,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePage)
	mux.HandleFunc("/chat", s.handleChatForm)
	mux.HandleFunc("/mode", s.handleMode)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/chat", s.handleChat)
	if s.indexer != nil {
		mux.HandleFunc("/v1/ingest", s.handleIngest)
		mux.HandleFunc("/v1/clear", s.handleClear)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Message: "ok", Sessions: s.store.Count()})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.renderPass(w, r, shell.Input{})
}

func (s *Server) handleChatForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}

	s.renderPass(w, r, shell.Input{Question: r.PostFormValue("question")})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}
	mode, err := session.ParseMode(r.PostFormValue("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.renderPass(w, r, shell.Input{Mode: &mode})
}

// renderPass runs one pass for the caller's session and writes the page, or
// the frame as JSON when the client asks for it.
func (s *Server) renderPass(w http.ResponseWriter, r *http.Request, in shell.Input) {
	sess := s.session(w, r)
	frame := ui.NewFrame()
	state := shell.New(sess, s.initializer, s.logger).Pass(r.Context(), in, frame)
	frame.Close()

	status := http.StatusOK
	if state == shell.StateFailed {
		status = http.StatusInternalServerError
	}

	if wantsJSON(r) {
		s.writeJSON(w, status, pageResponse{State: state, Elements: frame.Elements})
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, config.AppName, frame); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("render page: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Info("api error", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
