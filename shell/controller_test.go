package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/bootstrap"
	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/llm"
	"github.com/fabfab/docsearch/pipeline"
	"github.com/fabfab/docsearch/retrieval"
	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/ui"
)

type stubBackend struct {
	mu        sync.Mutex
	docs      []retrieval.Document
	answer    string
	searchErr error
}

func (s *stubBackend) Search(ctx context.Context, query string, limit int) ([]retrieval.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.docs, nil
}

func (s *stubBackend) Answer(ctx context.Context, query string, docs []retrieval.Document, history []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer, nil
}

func (s *stubBackend) AnswerStream(ctx context.Context, query string, docs []retrieval.Document, history []llm.Message, fn func(string) error) (string, error) {
	answer, _ := s.Answer(ctx, query, docs, history)
	for _, piece := range strings.SplitAfter(answer, " ") {
		if err := fn(piece); err != nil {
			return "", err
		}
	}
	return answer, nil
}

var _ pipeline.StreamingBackend = (*stubBackend)(nil)

func (s *stubBackend) answerWith(answer string) {
	s.mu.Lock()
	s.answer = answer
	s.mu.Unlock()
}

func (s *stubBackend) failWith(err error) {
	s.mu.Lock()
	s.searchErr = err
	s.mu.Unlock()
}

func testConfig() config.Config {
	return config.Config{
		OpenAIAPIKey: "sk-test",
		LLM:          config.LLMConfig{Provider: config.ProviderOpenAI},
		Embeddings:   config.EmbeddingsConfig{Provider: config.ProviderOpenAI, Dimension: 1536},
		TopK:         5,
		DefaultMode:  config.ModeDocumentSearch,
	}
}

func newController(t *testing.T, cfg config.Config, backend pipeline.Backend) *Controller {
	t.Helper()
	factory := func(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Backend, func() error, error) {
		return backend, nil, nil
	}
	return New(session.New("test"), bootstrap.New(cfg, factory, nil), nil)
}

func vacationBackend() *stubBackend {
	return &stubBackend{
		docs: []retrieval.Document{
			{DocumentID: "d1", Path: "hr/leave.pdf", Page: 3},
			{DocumentID: "d2", Path: "hr/handbook.md"},
		},
		answer: "Employees get 20 days of paid leave [Source 1].",
	}
}

func TestFirstPassRendersGreetingAndInput(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	frame := ui.NewFrame()

	state := c.Pass(context.Background(), Input{}, frame)

	assert.Equal(t, StateAwaitingInput, state)
	assert.True(t, frame.Has(ui.KindTitle))
	assert.True(t, frame.Has(ui.KindModeSelector))
	inputs := frame.Find(ui.KindChatInput)
	require.Len(t, inputs, 1)
	assert.Equal(t, config.ChatInputHelperText, inputs[0].Text)
	assert.Equal(t, config.SpinnerText, inputs[0].Spinner)
	bubbles := frame.Find(ui.KindChatMessage)
	require.Len(t, bubbles, 1)
	assert.Equal(t, config.InitialAIMessage, bubbles[0].Children[0].Text)
	assert.Zero(t, c.Session().Len())
}

func TestSuccessfulTurnAppendsTwoMessages(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	frame := ui.NewFrame()

	state := c.Pass(context.Background(), Input{Question: "vacation policy"}, frame)

	assert.Equal(t, StateAwaitingInput, state)
	msgs := c.Session().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, session.ChatMessage{Role: session.RoleUser, Content: "vacation policy"}, msgs[0])
	assert.Equal(t, session.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "hr/leave.pdf (page 3)")
	assert.Contains(t, msgs[1].Content, "hr/handbook.md")

	var locs []string
	for _, el := range frame.Find(ui.KindLocation) {
		locs = append(locs, el.Text)
	}
	assert.Equal(t, []string{"hr/leave.pdf (page 3)", "hr/handbook.md"}, locs)
}

func TestContactTurnArchivesAnswer(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	contact := session.ModeContactQA

	state := c.Pass(context.Background(), Input{Question: "how many vacation days?", Mode: &contact}, ui.NewFrame())

	assert.Equal(t, StateAwaitingInput, state)
	msgs := c.Session().Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "20 days")
	assert.Contains(t, msgs[1].Content, "hr/leave.pdf (page 3)")
}

func TestRetrievalFailureIsRecoverable(t *testing.T) {
	backend := vacationBackend()
	c := newController(t, testConfig(), backend)
	require.Equal(t, StateAwaitingInput, c.Pass(context.Background(), Input{Question: "first"}, ui.NewFrame()))
	before := c.Session().Messages()

	backend.failWith(errors.New("quota exceeded"))
	frame := ui.NewFrame()
	state := c.Pass(context.Background(), Input{Question: "second"}, frame)

	assert.Equal(t, StateAwaitingInput, state)
	assert.Equal(t, before, c.Session().Messages())
	errs := frame.Find(ui.KindError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, config.GetLLMResponseErrorMessage)
	assert.NotContains(t, errs[0].Text, "quota exceeded")
	assert.False(t, frame.Has(ui.KindException))
	assert.True(t, frame.Has(ui.KindChatInput))

	backend.failWith(nil)
	state = c.Pass(context.Background(), Input{Question: "third"}, ui.NewFrame())
	assert.Equal(t, StateAwaitingInput, state)
	assert.Equal(t, len(before)+2, c.Session().Len())
}

func TestPresentationFailureIsRecoverable(t *testing.T) {
	backend := vacationBackend()
	c := newController(t, testConfig(), backend)
	contact := session.ModeContactQA
	require.Equal(t, StateAwaitingInput, c.Pass(context.Background(), Input{Question: "first", Mode: &contact}, ui.NewFrame()))
	before := c.Session().Messages()

	backend.answerWith("")
	frame := ui.NewFrame()
	state := c.Pass(context.Background(), Input{Question: "second"}, frame)

	assert.Equal(t, StateAwaitingInput, state)
	assert.Equal(t, before, c.Session().Messages())
	errs := frame.Find(ui.KindError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, config.DispAnswerErrorMessage)
	assert.False(t, frame.Has(ui.KindException))
	assert.True(t, frame.Has(ui.KindChatInput))

	backend.answerWith("Travel is booked through the portal.")
	state = c.Pass(context.Background(), Input{Question: "third"}, ui.NewFrame())
	assert.Equal(t, StateAwaitingInput, state)
	assert.Equal(t, len(before)+2, c.Session().Len())
}

func TestContactTurnStreamsPartialAnswers(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	var partials []string
	c.StreamAnswers(func(answer string) error {
		partials = append(partials, answer)
		return nil
	})
	contact := session.ModeContactQA

	state := c.Pass(context.Background(), Input{Question: "how many vacation days?", Mode: &contact}, ui.NewFrame())

	assert.Equal(t, StateAwaitingInput, state)
	require.NotEmpty(t, partials)
	assert.Equal(t, "Employees ", partials[0])
	assert.Equal(t, "Employees get 20 days of paid leave [Source 1].", partials[len(partials)-1])
	require.Equal(t, 2, c.Session().Len())
	assert.Contains(t, c.Session().Messages()[1].Content, "20 days")

	partials = nil
	search := session.ModeDocumentSearch
	c.Pass(context.Background(), Input{Question: "vacation", Mode: &search}, ui.NewFrame())
	assert.Empty(t, partials)
}

func TestStreamReceiverFailureIsRecoverable(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	c.StreamAnswers(func(string) error { return errors.New("connection reset") })
	contact := session.ModeContactQA

	frame := ui.NewFrame()
	state := c.Pass(context.Background(), Input{Question: "vacation?", Mode: &contact}, frame)

	assert.Equal(t, StateAwaitingInput, state)
	assert.Zero(t, c.Session().Len())
	errs := frame.Find(ui.KindError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, config.GetLLMResponseErrorMessage)
	assert.True(t, frame.Has(ui.KindChatInput))
}

func TestMissingAPIKeyFailsBoot(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	c := newController(t, cfg, vacationBackend())
	frame := ui.NewFrame()

	state := c.Pass(context.Background(), Input{Question: "hello"}, frame)

	assert.Equal(t, StateFailed, state)
	assert.Equal(t, StateFailed, c.State())
	require.Len(t, frame.Elements, 2)
	assert.Equal(t, ui.KindError, frame.Elements[0].Kind)
	assert.Contains(t, frame.Elements[0].Text, config.InitializeErrorMessage)
	assert.Equal(t, ui.KindException, frame.Elements[1].Kind)
	assert.Contains(t, frame.Elements[1].Text, "OPENAI_API_KEY")
	assert.False(t, frame.Has(ui.KindChatInput))
	assert.Zero(t, c.Session().Len())
}

func TestBrokenConversationLogStopsPass(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	require.Equal(t, StateAwaitingInput, c.Pass(context.Background(), Input{}, ui.NewFrame()))
	c.Session().Append(session.ChatMessage{Role: "robot", Content: "?"})

	frame := ui.NewFrame()
	state := c.Pass(context.Background(), Input{Question: "vacation"}, frame)

	assert.Equal(t, StateFailed, state)
	assert.True(t, frame.Has(ui.KindException))
	assert.False(t, frame.Has(ui.KindChatInput))
	assert.Equal(t, 1, c.Session().Len())
}

func TestModeSwitchKeepsMessages(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	require.Equal(t, StateAwaitingInput, c.Pass(context.Background(), Input{Question: "vacation"}, ui.NewFrame()))
	before := c.Session().Messages()

	contact := session.ModeContactQA
	frame := ui.NewFrame()
	c.Pass(context.Background(), Input{Mode: &contact}, frame)

	assert.Equal(t, session.ModeContactQA, c.Session().Mode())
	assert.Equal(t, before, c.Session().Messages())
	// The greeting is only shown to an empty conversation.
	assert.Len(t, frame.Find(ui.KindChatMessage), 2)
}

func TestRepeatedPassesDoNotResetSession(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	c.Pass(context.Background(), Input{Question: "one"}, ui.NewFrame())
	c.Pass(context.Background(), Input{}, ui.NewFrame())
	c.Pass(context.Background(), Input{}, ui.NewFrame())
	assert.Equal(t, 2, c.Session().Len())
}

func TestRunEmitsFramePerInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newController(t, testConfig(), vacationBackend())
	ctx, cancel := context.WithCancel(context.Background())
	inputs := make(chan Input)
	frames := make(chan *ui.Frame, 4)
	done := make(chan error, 1)

	go func() {
		done <- c.Run(ctx, inputs, func(f *ui.Frame) error {
			frames <- f
			return nil
		})
	}()

	first := <-frames
	assert.True(t, first.Has(ui.KindChatInput))

	inputs <- Input{Question: "vacation policy"}
	second := <-frames
	assert.Len(t, second.Find(ui.KindLocation), 2)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, 2, c.Session().Len())
}

func TestRunStopsWhenInputsClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newController(t, testConfig(), vacationBackend())
	inputs := make(chan Input)
	close(inputs)

	err := c.Run(context.Background(), inputs, func(*ui.Frame) error { return nil })
	assert.NoError(t, err)
}

func TestRunStopsAfterFailedBoot(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	c := newController(t, cfg, vacationBackend())

	var emitted []*ui.Frame
	err := c.Run(context.Background(), make(chan Input), func(f *ui.Frame) error {
		emitted = append(emitted, f)
		return nil
	})

	assert.ErrorIs(t, err, ErrFailed)
	require.Len(t, emitted, 1)
	assert.False(t, emitted[0].Has(ui.KindChatInput))
}

func TestRunReturnsEmitError(t *testing.T) {
	c := newController(t, testConfig(), vacationBackend())
	boom := errors.New("connection reset")

	err := c.Run(context.Background(), make(chan Input), func(*ui.Frame) error { return boom })
	assert.ErrorIs(t, err, boom)
}
