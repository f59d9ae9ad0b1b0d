// Package present renders application state and pipeline responses onto a
// ui.Surface. The display functions for responses return the text that is
// archived in the conversation log.
package present

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/pipeline"
	"github.com/fabfab/docsearch/retrieval"
	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/ui"
)

const (
	documentIcon = "📄"
	modeLabel    = "Mode"
)

func DisplayAppTitle(s ui.Surface) error {
	return s.Title(config.AppName)
}

// DisplaySelectMode shows the mode selector. When selection is non-nil the
// session switches to it first; this is the only place the mode changes.
func DisplaySelectMode(s ui.Surface, sess *session.Session, selection *session.Mode) error {
	if selection != nil {
		if err := sess.SetMode(*selection); err != nil {
			return fmt.Errorf("select mode: %w", err)
		}
	}

	modes := session.Modes()
	options := make([]ui.Option, 0, len(modes))
	for _, mode := range modes {
		options = append(options, ui.Option{Value: string(mode), Label: mode.Label()})
	}
	if err := s.ModeSelector(modeLabel, options, string(sess.Mode())); err != nil {
		return err
	}
	for _, mode := range modes {
		if err := s.Caption(fmt.Sprintf("%s: %s", mode.Label(), mode.Description())); err != nil {
			return err
		}
	}
	return nil
}

func DisplayInitialAIMessage(s ui.Surface) error {
	bubble, err := s.ChatMessage(string(session.RoleAssistant))
	if err != nil {
		return err
	}
	return bubble.Markdown(config.InitialAIMessage)
}

// DisplayConversationLog replays the log in order. It stops at the first
// message it cannot render.
func DisplayConversationLog(s ui.Surface, sess *session.Session) error {
	for i, msg := range sess.Messages() {
		if msg.Role != session.RoleUser && msg.Role != session.RoleAssistant {
			return &ConversationRenderError{Index: i, Cause: fmt.Errorf("unknown role %q", msg.Role)}
		}
		bubble, err := s.ChatMessage(string(msg.Role))
		if err != nil {
			return &ConversationRenderError{Index: i, Cause: err}
		}
		if err := bubble.Markdown(msg.Content); err != nil {
			return &ConversationRenderError{Index: i, Cause: err}
		}
	}
	return nil
}

// DisplaySearchResponse lists where the matching documents are stored: the
// best match first, then the other candidates in the order given.
func DisplaySearchResponse(s ui.Surface, resp pipeline.Response) (string, error) {
	locations := uniqueLocations(resp.Sources)
	if len(locations) == 0 {
		if err := s.Markdown(config.SearchNoMatchMessage); err != nil {
			return "", &PresentationError{Cause: err}
		}
		return config.SearchNoMatchMessage, nil
	}

	var content strings.Builder
	write := func(fn func() error, text string) error {
		if err := fn(); err != nil {
			return &PresentationError{Cause: err}
		}
		content.WriteString(text)
		return nil
	}

	best := locations[0]
	if err := write(func() error { return s.Markdown(config.SearchMainMessage) }, config.SearchMainMessage+"\n"); err != nil {
		return "", err
	}
	if err := write(func() error { return s.Location(documentIcon, best) }, "- "+best+"\n"); err != nil {
		return "", err
	}

	if len(locations) > 1 {
		if err := write(func() error { return s.Markdown(config.SearchOtherMessage) }, "\n"+config.SearchOtherMessage+"\n"); err != nil {
			return "", err
		}
		for _, loc := range locations[1:] {
			if err := write(func() error { return s.Location(documentIcon, loc) }, "- "+loc+"\n"); err != nil {
				return "", err
			}
		}
	}

	if related := relatedPaths(resp.Sources[0], resp.Sources); len(related) > 0 {
		text := "Related documents in the same folder: " + strings.Join(related, ", ")
		if err := write(func() error { return s.Info(text) }, "\n"+text+"\n"); err != nil {
			return "", err
		}
	}

	return strings.TrimRight(content.String(), "\n"), nil
}

// DisplayContactResponse shows the generated answer followed by the sources
// it was grounded on. The returned content starts with the answer verbatim.
func DisplayContactResponse(s ui.Surface, resp pipeline.Response) (string, error) {
	if strings.TrimSpace(resp.Answer) == "" {
		return "", &PresentationError{Cause: errors.New("response has no answer")}
	}
	if err := s.Markdown(resp.Answer); err != nil {
		return "", &PresentationError{Cause: err}
	}

	content := resp.Answer
	if resp.Answer == config.NoMatchAnswer {
		return content, nil
	}

	locations := uniqueLocations(resp.Sources)
	if len(locations) == 0 {
		return content, nil
	}

	if err := s.Markdown("**" + config.ContactSourcesHeading + "**"); err != nil {
		return "", &PresentationError{Cause: err}
	}
	var sb strings.Builder
	sb.WriteString(content)
	sb.WriteString("\n\n" + config.ContactSourcesHeading + ":")
	for _, loc := range locations {
		if err := s.Location(documentIcon, loc); err != nil {
			return "", &PresentationError{Cause: err}
		}
		sb.WriteString("\n- " + loc)
	}
	return sb.String(), nil
}

// Location formats where a document can be found, with the page for paged
// formats.
func Location(doc retrieval.Document) string {
	loc := doc.Path
	if loc == "" {
		loc = doc.Title
	}
	if doc.Page > 0 {
		loc = fmt.Sprintf("%s (page %d)", loc, doc.Page)
	}
	return loc
}

func uniqueLocations(docs []retrieval.Document) []string {
	seen := make(map[string]struct{}, len(docs))
	locations := make([]string, 0, len(docs))
	for _, doc := range docs {
		loc := Location(doc)
		if loc == "" {
			continue
		}
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		locations = append(locations, loc)
	}
	return locations
}

// relatedPaths lists siblings of doc whose path is not among shown.
func relatedPaths(doc retrieval.Document, shown []retrieval.Document) []string {
	skip := make(map[string]struct{}, len(shown))
	for _, source := range shown {
		if source.Path != "" {
			skip[source.Path] = struct{}{}
		}
	}
	var paths []string
	for _, related := range doc.Insight.RelatedDocuments {
		if related.Path == "" {
			continue
		}
		if _, ok := skip[related.Path]; ok {
			continue
		}
		skip[related.Path] = struct{}{}
		paths = append(paths, related.Path)
	}
	return paths
}
