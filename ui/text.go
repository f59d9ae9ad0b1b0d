package ui

import (
	"fmt"
	"io"
	"strings"
)

// RenderText writes a frame as plain text, for terminals and logs.
func RenderText(w io.Writer, frame *Frame) error {
	frame.mu.Lock()
	defer frame.mu.Unlock()
	return writeText(w, frame.Elements, "")
}

func writeText(w io.Writer, elements []*Element, indent string) error {
	for _, el := range elements {
		var line string
		switch el.Kind {
		case KindTitle:
			line = "# " + el.Text
		case KindCaption, KindMarkdown, KindInfo:
			line = el.Text
		case KindModeSelector:
			labels := make([]string, 0, len(el.Options))
			for _, opt := range el.Options {
				mark := " "
				if opt.Value == el.Selected {
					mark = "x"
				}
				labels = append(labels, fmt.Sprintf("[%s] %s", mark, opt.Label))
			}
			line = el.Text + ": " + strings.Join(labels, "  ")
		case KindLocation, KindError:
			line = strings.TrimSpace(el.Icon + " " + el.Text)
		case KindException:
			line = "details:\n" + el.Text
		case KindChatMessage:
			if _, err := fmt.Fprintf(w, "%s[%s]\n", indent, el.Role); err != nil {
				return err
			}
			if err := writeText(w, el.Children, indent+"  "); err != nil {
				return err
			}
			continue
		default:
			// Spinners and input boxes have no text form.
			continue
		}

		for _, part := range strings.Split(line, "\n") {
			if _, err := fmt.Fprintf(w, "%s%s\n", indent, part); err != nil {
				return err
			}
		}
	}
	return nil
}
