package present

import (
	"fmt"
	"strings"

	"github.com/fabfab/docsearch/config"
)

// ConversationRenderError reports that the stored conversation could not be
// replayed. Index is the position of the offending message.
type ConversationRenderError struct {
	Index int
	Cause error
}

func (e *ConversationRenderError) Error() string {
	return fmt.Sprintf("render conversation message %d: %v", e.Index, e.Cause)
}

func (e *ConversationRenderError) Unwrap() error { return e.Cause }

// PresentationError reports that a response could not be shown.
type PresentationError struct {
	Cause error
}

func (e *PresentationError) Error() string {
	return fmt.Sprintf("display response: %v", e.Cause)
}

func (e *PresentationError) Unwrap() error { return e.Cause }

// BuildErrorMessage appends the shared follow-up advice to a user facing
// error message.
func BuildErrorMessage(message string) string {
	return strings.TrimSpace(message) + "\n" + config.CommonErrorSuffix
}
