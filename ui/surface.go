// Package ui describes what the application shows on screen. Presentation
// code writes elements to a Surface; renderers turn the recorded Frame into
// HTML, JSON or plain text.
package ui

import (
	"errors"
	"sync"
)

type Kind string

const (
	KindTitle        Kind = "title"
	KindCaption      Kind = "caption"
	KindModeSelector Kind = "mode_selector"
	KindMarkdown     Kind = "markdown"
	KindLocation     Kind = "location"
	KindInfo         Kind = "info"
	KindSpinner      Kind = "spinner"
	KindError        Kind = "error"
	KindException    Kind = "exception"
	KindChatInput    Kind = "chat_input"
	KindChatMessage  Kind = "chat_message"
)

// ErrClosed is returned by a Frame that no longer accepts elements.
var ErrClosed = errors.New("ui: surface closed")

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Element struct {
	Kind     Kind       `json:"kind"`
	Text     string     `json:"text,omitempty"`
	Icon     string     `json:"icon,omitempty"`
	Role     string     `json:"role,omitempty"`
	Options  []Option   `json:"options,omitempty"`
	Selected string     `json:"selected,omitempty"`
	Spinner  string     `json:"spinner,omitempty"`
	Children []*Element `json:"children,omitempty"`
}

// Surface receives UI elements in display order.
type Surface interface {
	Title(text string) error
	Caption(text string) error
	ModeSelector(label string, options []Option, selected string) error
	Markdown(text string) error
	// Location highlights where a document is stored.
	Location(icon, text string) error
	Info(text string) error
	Spinner(text string) error
	Error(icon, text string) error
	// Exception shows diagnostic detail in an expandable block.
	Exception(detail string) error
	ChatInput(placeholder, spinner string) error
	// ChatMessage opens a role-tagged bubble; elements written to the
	// returned surface are shown inside it.
	ChatMessage(role string) (Surface, error)
}

// Frame records everything written to it during one render pass.
type Frame struct {
	mu       sync.Mutex
	closed   bool
	Elements []*Element `json:"elements"`
}

func NewFrame() *Frame {
	return &Frame{}
}

// Close makes further writes fail with ErrClosed.
func (f *Frame) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Find returns all elements of kind, depth first.
func (f *Frame) Find(kind Kind) []*Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []*Element
	var walk func([]*Element)
	walk = func(elements []*Element) {
		for _, el := range elements {
			if el.Kind == kind {
				found = append(found, el)
			}
			walk(el.Children)
		}
	}
	walk(f.Elements)
	return found
}

func (f *Frame) Has(kind Kind) bool {
	return len(f.Find(kind)) > 0
}

func (f *Frame) Title(text string) error {
	return f.root().Title(text)
}

func (f *Frame) Caption(text string) error {
	return f.root().Caption(text)
}

func (f *Frame) ModeSelector(label string, options []Option, selected string) error {
	return f.root().ModeSelector(label, options, selected)
}

func (f *Frame) Markdown(text string) error {
	return f.root().Markdown(text)
}

func (f *Frame) Location(icon, text string) error {
	return f.root().Location(icon, text)
}

func (f *Frame) Info(text string) error {
	return f.root().Info(text)
}

func (f *Frame) Spinner(text string) error {
	return f.root().Spinner(text)
}

func (f *Frame) Error(icon, text string) error {
	return f.root().Error(icon, text)
}

func (f *Frame) Exception(detail string) error {
	return f.root().Exception(detail)
}

func (f *Frame) ChatInput(placeholder, spinner string) error {
	return f.root().ChatInput(placeholder, spinner)
}

func (f *Frame) ChatMessage(role string) (Surface, error) {
	return f.root().ChatMessage(role)
}

func (f *Frame) root() *container {
	return &container{frame: f, target: &f.Elements}
}

// container appends to one element list of a frame.
type container struct {
	frame  *Frame
	target *[]*Element
}

func (c *container) add(el *Element) error {
	c.frame.mu.Lock()
	defer c.frame.mu.Unlock()
	if c.frame.closed {
		return ErrClosed
	}
	*c.target = append(*c.target, el)
	return nil
}

func (c *container) Title(text string) error {
	return c.add(&Element{Kind: KindTitle, Text: text})
}

func (c *container) Caption(text string) error {
	return c.add(&Element{Kind: KindCaption, Text: text})
}

func (c *container) ModeSelector(label string, options []Option, selected string) error {
	opts := make([]Option, len(options))
	copy(opts, options)
	return c.add(&Element{Kind: KindModeSelector, Text: label, Options: opts, Selected: selected})
}

func (c *container) Markdown(text string) error {
	return c.add(&Element{Kind: KindMarkdown, Text: text})
}

func (c *container) Location(icon, text string) error {
	return c.add(&Element{Kind: KindLocation, Icon: icon, Text: text})
}

func (c *container) Info(text string) error {
	return c.add(&Element{Kind: KindInfo, Text: text})
}

func (c *container) Spinner(text string) error {
	return c.add(&Element{Kind: KindSpinner, Text: text})
}

func (c *container) Error(icon, text string) error {
	return c.add(&Element{Kind: KindError, Icon: icon, Text: text})
}

func (c *container) Exception(detail string) error {
	return c.add(&Element{Kind: KindException, Text: detail})
}

func (c *container) ChatInput(placeholder, spinner string) error {
	return c.add(&Element{Kind: KindChatInput, Text: placeholder, Spinner: spinner})
}

func (c *container) ChatMessage(role string) (Surface, error) {
	el := &Element{Kind: KindChatMessage, Role: role}
	if err := c.add(el); err != nil {
		return nil, err
	}
	return &container{frame: c.frame, target: &el.Children}, nil
}

var (
	_ Surface = (*Frame)(nil)
	_ Surface = (*container)(nil)
)
