// Package pipeline turns a user question into a structured response by
// calling the retrieval backend in the way the session mode requires.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/llm"
	"github.com/fabfab/docsearch/retrieval"
	"github.com/fabfab/docsearch/session"
)

const (
	StageSearch = "search"
	StageAnswer = "answer"
)

// Backend is the retrieval service the pipeline consumes.
type Backend interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.Document, error)
	Answer(ctx context.Context, query string, docs []retrieval.Document, history []llm.Message) (string, error)
}

// StreamingBackend can deliver a contact answer while it is generated.
type StreamingBackend interface {
	Backend
	AnswerStream(ctx context.Context, query string, docs []retrieval.Document, history []llm.Message, fn func(piece string) error) (string, error)
}

var (
	_ Backend          = (*retrieval.Retriever)(nil)
	_ StreamingBackend = (*retrieval.Retriever)(nil)
)

// Response is the result for one question. Answer is set only in contact
// mode.
type Response struct {
	Mode    session.Mode
	Answer  string
	Sources []retrieval.Document
}

// RetrievalError reports a backend failure during one turn.
type RetrievalError struct {
	Stage string
	Cause error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Stage, e.Cause)
}

func (e *RetrievalError) Unwrap() error { return e.Cause }

type Pipeline struct {
	backend Backend
	topK    int
	logger  *zap.Logger
	tracer  trace.Tracer
}

func New(backend Backend, topK int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		backend: backend,
		topK:    topK,
		logger:  logger,
		tracer:  otel.Tracer("github.com/fabfab/docsearch/pipeline"),
	}
}

// WithTopK returns a copy of p that retrieves k documents per question.
func (p *Pipeline) WithTopK(k int) *Pipeline {
	if k <= 0 {
		return p
	}
	clone := *p
	clone.topK = k
	return &clone
}

// Respond makes exactly one attempt against the backend. Every failure is
// returned as a *RetrievalError.
func (p *Pipeline) Respond(ctx context.Context, req Request) (Response, error) {
	return p.respond(ctx, req, nil)
}

// RespondStream is Respond for callers that show a contact answer while it
// is generated. partial receives the answer so far after every piece. It is
// not called for document searches, for the fixed no-match answer, or when
// the backend cannot stream.
func (p *Pipeline) RespondStream(ctx context.Context, req Request, partial func(answer string) error) (Response, error) {
	return p.respond(ctx, req, partial)
}

func (p *Pipeline) respond(ctx context.Context, req Request, partial func(string) error) (resp Response, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.respond",
		trace.WithAttributes(attribute.String("application_mode", string(req.Mode()))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("sources", len(resp.Sources)))
		}
		span.End()
	}()

	if p.backend == nil {
		return Response{}, &RetrievalError{Stage: StageSearch, Cause: errors.New("retrieval backend is not configured")}
	}

	switch r := req.(type) {
	case DocumentSearchRequest:
		return p.search(ctx, r)
	case ContactQARequest:
		return p.answer(ctx, r, partial)
	default:
		return Response{}, &RetrievalError{Stage: StageSearch, Cause: fmt.Errorf("unsupported request %T", req)}
	}
}

func (p *Pipeline) search(ctx context.Context, req DocumentSearchRequest) (Response, error) {
	docs, err := p.backend.Search(ctx, req.Query, p.topK)
	if err != nil {
		return Response{}, &RetrievalError{Stage: StageSearch, Cause: err}
	}
	p.logger.Debug("document search finished", zap.Int("sources", len(docs)))
	return Response{Mode: session.ModeDocumentSearch, Sources: docs}, nil
}

func (p *Pipeline) answer(ctx context.Context, req ContactQARequest, partial func(string) error) (Response, error) {
	docs, err := p.backend.Search(ctx, req.Query, p.topK)
	if err != nil {
		return Response{}, &RetrievalError{Stage: StageSearch, Cause: err}
	}
	if len(docs) == 0 {
		p.logger.Info("no documents retrieved, skipping generation")
		return Response{Mode: session.ModeContactQA, Answer: config.NoMatchAnswer}, nil
	}

	answer, err := p.generate(ctx, req, docs, partial)
	if err != nil {
		return Response{}, &RetrievalError{Stage: StageAnswer, Cause: err}
	}
	return Response{Mode: session.ModeContactQA, Answer: answer, Sources: docs}, nil
}

func (p *Pipeline) generate(ctx context.Context, req ContactQARequest, docs []retrieval.Document, partial func(string) error) (string, error) {
	streamer, ok := p.backend.(StreamingBackend)
	if partial == nil || !ok {
		return p.backend.Answer(ctx, req.Query, docs, req.History)
	}

	var sofar strings.Builder
	pieces := 0
	answer, err := streamer.AnswerStream(ctx, req.Query, docs, req.History, func(piece string) error {
		sofar.WriteString(piece)
		pieces++
		return partial(sofar.String())
	})
	if err != nil {
		return "", err
	}
	p.logger.Debug("answer streamed", zap.Int("pieces", pieces))
	return answer, nil
}
