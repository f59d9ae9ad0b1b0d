// Package shell drives one session through a render pass: initialize,
// render the page, replay the conversation and process at most one turn.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/bootstrap"
	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/pipeline"
	"github.com/fabfab/docsearch/present"
	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/ui"
)

type State string

const (
	StateBooting        State = "booting"
	StateReady          State = "ready"
	StateAwaitingInput  State = "awaiting_input"
	StateProcessingTurn State = "processing_turn"
	StateFailed         State = "failed"
)

// Stage tags attached to error logs.
const (
	stageInitialize   = "initialize"
	stageRender       = "render"
	stageConversation = "conversation_log"
	stageRetrieval    = "retrieval"
	stagePresentation = "presentation"
)

const (
	outcomeSuccess           = "success"
	outcomeRetrievalError    = "retrieval_error"
	outcomePresentationError = "presentation_error"
)

// ErrFailed is returned by Run after a pass ends in StateFailed.
var ErrFailed = errors.New("shell: render pass failed")

// Input is what the user did since the last pass. A nil Mode keeps the
// current mode; an empty Question renders the page without a turn.
type Input struct {
	Question string
	Mode     *session.Mode
}

type Initializer interface {
	Initialize(ctx context.Context, sess *session.Session) (*bootstrap.Runtime, error)
}

var _ Initializer = (*bootstrap.Initializer)(nil)

type Controller struct {
	sess        *session.Session
	initializer Initializer
	logger      *zap.Logger
	turns       metric.Int64Counter
	partial     func(answer string) error

	state State
}

func New(sess *session.Session, initializer Initializer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}

	var turns metric.Int64Counter = noop.Int64Counter{}
	counter, err := otel.Meter("github.com/fabfab/docsearch/shell").Int64Counter("chat.turns",
		metric.WithDescription("Chat turns processed, by outcome"))
	if err != nil {
		logger.Warn("turn counter unavailable", zap.Error(err))
	} else {
		turns = counter
	}

	return &Controller{
		sess:        sess,
		initializer: initializer,
		logger:      logger.With(zap.String("session_id", sess.ID)),
		turns:       turns,
	}
}

// StreamAnswers makes contact turns report the answer generated so far to fn
// before the pass finishes. An error from fn fails the turn.
func (c *Controller) StreamAnswers(fn func(answer string) error) {
	c.partial = fn
}

func (c *Controller) Session() *session.Session {
	return c.sess
}

// State reports where the last pass stopped.
func (c *Controller) State() State {
	c.sess.Lock()
	defer c.sess.Unlock()
	return c.state
}

func (c *Controller) enter(state State) {
	c.logger.Debug("state transition", zap.String("from", string(c.state)), zap.String("to", string(state)))
	c.state = state
}

// Pass runs one render pass onto s and reports the state it ended in:
// StateAwaitingInput on success or a recovered turn failure, StateFailed
// otherwise. Passes for the same session never overlap.
func (c *Controller) Pass(ctx context.Context, in Input, s ui.Surface) State {
	c.sess.Lock()
	defer c.sess.Unlock()

	c.enter(StateBooting)
	rt, err := c.initializer.Initialize(ctx, c.sess)
	if err != nil {
		return c.fail(s, stageInitialize, config.InitializeErrorMessage, err)
	}

	c.enter(StateReady)
	if err := c.renderHeader(s, in.Mode); err != nil {
		return c.fail(s, stageRender, config.ScreenRenderErrorMessage, err)
	}

	c.enter(StateAwaitingInput)
	if err := present.DisplayConversationLog(s, c.sess); err != nil {
		return c.fail(s, stageConversation, config.ConversationLogErrorMessage, err)
	}

	if question := strings.TrimSpace(in.Question); question != "" {
		// Failures inside a turn only discard that turn.
		c.enter(StateProcessingTurn)
		c.processTurn(ctx, rt, question, s)
		c.enter(StateAwaitingInput)
	}

	if err := s.ChatInput(config.ChatInputHelperText, config.SpinnerText); err != nil {
		return c.fail(s, stageRender, config.ScreenRenderErrorMessage, err)
	}
	return StateAwaitingInput
}

func (c *Controller) renderHeader(s ui.Surface, selection *session.Mode) error {
	if err := present.DisplayAppTitle(s); err != nil {
		return err
	}
	if err := present.DisplaySelectMode(s, c.sess, selection); err != nil {
		return err
	}
	if c.sess.Len() == 0 {
		return present.DisplayInitialAIMessage(s)
	}
	return nil
}

func (c *Controller) processTurn(ctx context.Context, rt *bootstrap.Runtime, question string, s ui.Surface) {
	mode := c.sess.Mode()
	c.logger.Info("user input",
		zap.String("message", question),
		zap.String("application_mode", string(mode)),
	)

	userBubble, err := s.ChatMessage(string(session.RoleUser))
	if err == nil {
		err = userBubble.Markdown(question)
	}
	if err != nil {
		c.recoverTurn(s, stagePresentation, config.DispAnswerErrorMessage, outcomePresentationError, &present.PresentationError{Cause: err})
		return
	}

	bubble, err := s.ChatMessage(string(session.RoleAssistant))
	if err == nil {
		err = bubble.Spinner(config.SpinnerText)
	}
	if err != nil {
		c.recoverTurn(s, stagePresentation, config.DispAnswerErrorMessage, outcomePresentationError, &present.PresentationError{Cause: err})
		return
	}

	req, err := pipeline.NewRequest(mode, question, c.sess.Messages())
	if err != nil {
		c.recoverTurn(bubble, stageRetrieval, config.GetLLMResponseErrorMessage, outcomeRetrievalError, fmt.Errorf("build request: %w", err))
		return
	}

	resp, err := rt.Pipeline.RespondStream(ctx, req, c.partial)
	if err != nil {
		c.recoverTurn(bubble, stageRetrieval, config.GetLLMResponseErrorMessage, outcomeRetrievalError, err)
		return
	}

	var content string
	switch req.(type) {
	case pipeline.DocumentSearchRequest:
		content, err = present.DisplaySearchResponse(bubble, resp)
	case pipeline.ContactQARequest:
		content, err = present.DisplayContactResponse(bubble, resp)
	}
	if err != nil {
		c.recoverTurn(bubble, stagePresentation, config.DispAnswerErrorMessage, outcomePresentationError, err)
		return
	}

	c.logger.Info("assistant output",
		zap.String("message", content),
		zap.String("application_mode", string(mode)),
	)
	c.sess.Append(
		session.ChatMessage{Role: session.RoleUser, Content: question},
		session.ChatMessage{Role: session.RoleAssistant, Content: content},
	)
	c.count(outcomeSuccess, mode)
}

// recoverTurn reports a failed turn. The conversation log is left as it was
// before the turn started.
func (c *Controller) recoverTurn(s ui.Surface, stage, message, outcome string, err error) {
	mode := c.sess.Mode()
	c.logger.Error(message,
		zap.String("stage", stage),
		zap.String("application_mode", string(mode)),
		zap.Error(err),
	)
	if renderErr := s.Error(config.ErrorIcon, present.BuildErrorMessage(message)); renderErr != nil {
		c.logger.Warn("could not show turn error", zap.Error(renderErr))
	}
	c.count(outcome, mode)
}

// fail shows a fatal error with its diagnostic detail. Nothing else is
// rendered after it in this pass.
func (c *Controller) fail(s ui.Surface, stage, message string, err error) State {
	c.logger.Error(message,
		zap.String("stage", stage),
		zap.String("application_mode", string(c.sess.Mode())),
		zap.Error(err),
	)
	if renderErr := s.Error(config.ErrorIcon, present.BuildErrorMessage(message)); renderErr == nil {
		_ = s.Exception(err.Error())
	}
	c.enter(StateFailed)
	return StateFailed
}

func (c *Controller) count(outcome string, mode session.Mode) {
	c.turns.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("application_mode", string(mode)),
	))
}

// Run renders an initial pass, then one pass per received input, handing
// each finished frame to emit. It returns when ctx is done, inputs is
// closed, emit fails, or a pass fails.
func (c *Controller) Run(ctx context.Context, inputs <-chan Input, emit func(*ui.Frame) error) error {
	if err := c.step(ctx, Input{}, emit); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inputs:
			if !ok {
				return nil
			}
			if err := c.step(ctx, in, emit); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) step(ctx context.Context, in Input, emit func(*ui.Frame) error) error {
	frame := ui.NewFrame()
	state := c.Pass(ctx, in, frame)
	frame.Close()
	if err := emit(frame); err != nil {
		return fmt.Errorf("emit frame: %w", err)
	}
	if state == StateFailed {
		return ErrFailed
	}
	return nil
}
