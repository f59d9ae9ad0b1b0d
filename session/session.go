// Package session holds per-user conversation state: the selected mode and
// the append-only conversation log.
package session

import (
	"fmt"
	"sync"

	"github.com/fabfab/docsearch/config"
)

type Mode string

const (
	ModeDocumentSearch Mode = config.ModeDocumentSearch
	ModeContactQA      Mode = config.ModeContactQA
)

// Modes lists the selectable modes in display order.
func Modes() []Mode {
	return []Mode{ModeDocumentSearch, ModeContactQA}
}

func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeDocumentSearch, ModeContactQA:
		return Mode(value), nil
	default:
		return "", fmt.Errorf("unknown mode %q", value)
	}
}

func (m Mode) Label() string {
	switch m {
	case ModeDocumentSearch:
		return config.ModeDocumentSearchLabel
	case ModeContactQA:
		return config.ModeContactQALabel
	default:
		return string(m)
	}
}

func (m Mode) Description() string {
	switch m {
	case ModeDocumentSearch:
		return config.ModeDocumentSearchDescription
	case ModeContactQA:
		return config.ModeContactQADescription
	default:
		return ""
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is owned by one browser session. Callers serialize access with
// Lock/Unlock; a render pass holds the lock for its whole duration.
type Session struct {
	ID string

	mu       sync.Mutex
	seeded   bool
	mode     Mode
	messages []ChatMessage
}

func New(id string) *Session {
	return &Session{ID: id}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Seed sets the initial mode and an empty log the first time it is called.
// It reports whether the session was seeded by this call.
func (s *Session) Seed(mode Mode) bool {
	if s.seeded {
		return false
	}
	s.seeded = true
	s.mode = mode
	s.messages = []ChatMessage{}
	return true
}

func (s *Session) Seeded() bool { return s.seeded }

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	s.mode = mode
	return nil
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []ChatMessage {
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Len() int { return len(s.messages) }

// Append adds messages to the end of the log. The log is never reordered or
// truncated.
func (s *Session) Append(messages ...ChatMessage) {
	s.messages = append(s.messages, messages...)
}
