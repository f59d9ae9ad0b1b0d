package pipeline

import (
	"fmt"
	"strings"

	"github.com/fabfab/docsearch/llm"
	"github.com/fabfab/docsearch/session"
)

// maxHistoryMessages bounds how much of the conversation is replayed to the
// model in contact mode.
const maxHistoryMessages = 10

// Request is one question routed through the pipeline. It is either a
// DocumentSearchRequest or a ContactQARequest.
type Request interface {
	Question() string
	Mode() session.Mode
	isRequest()
}

type DocumentSearchRequest struct {
	Query string
}

func (r DocumentSearchRequest) Question() string { return r.Query }
func (DocumentSearchRequest) Mode() session.Mode { return session.ModeDocumentSearch }
func (DocumentSearchRequest) isRequest()         {}

type ContactQARequest struct {
	Query   string
	History []llm.Message
}

func (r ContactQARequest) Question() string { return r.Query }
func (ContactQARequest) Mode() session.Mode { return session.ModeContactQA }
func (ContactQARequest) isRequest()         {}

// NewRequest builds the request variant for mode. history is the session's
// conversation log before this question.
func NewRequest(mode session.Mode, question string, history []session.ChatMessage) (Request, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	switch mode {
	case session.ModeDocumentSearch:
		return DocumentSearchRequest{Query: question}, nil
	case session.ModeContactQA:
		return ContactQARequest{Query: question, History: toLLMHistory(history)}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func toLLMHistory(history []session.ChatMessage) []llm.Message {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	messages := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		role := llm.RoleUser
		if msg.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: msg.Content})
	}
	return messages
}
