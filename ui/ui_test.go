package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame(t *testing.T) *Frame {
	t.Helper()
	frame := NewFrame()
	require.NoError(t, frame.Title("Company Document Search"))
	require.NoError(t, frame.ModeSelector("Mode", []Option{{Value: "a", Label: "A"}, {Value: "b", Label: "B"}}, "b"))
	bubble, err := frame.ChatMessage("assistant")
	require.NoError(t, err)
	require.NoError(t, bubble.Markdown("**20 days** <script>alert(1)</script>"))
	require.NoError(t, bubble.Location("📄", "hr/leave.pdf (page 3)"))
	require.NoError(t, frame.ChatInput("Ask something", "Searching..."))
	return frame
}

func TestFrameNestsChatMessages(t *testing.T) {
	frame := sampleFrame(t)

	messages := frame.Find(KindChatMessage)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Children, 2)
	assert.Equal(t, KindLocation, messages[0].Children[1].Kind)
	assert.True(t, frame.Has(KindLocation))
	assert.False(t, frame.Has(KindError))
}

func TestClosedFrameRejectsWrites(t *testing.T) {
	frame := NewFrame()
	bubble, err := frame.ChatMessage("user")
	require.NoError(t, err)

	frame.Close()
	assert.ErrorIs(t, frame.Title("x"), ErrClosed)
	assert.ErrorIs(t, bubble.Markdown("x"), ErrClosed)
}

func TestHTMLRendererSanitizesMarkdown(t *testing.T) {
	renderer, err := NewHTMLRenderer()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, renderer.Render(&buf, "Company Document Search", sampleFrame(t)))
	out := buf.String()

	assert.Contains(t, out, "<h1>Company Document Search</h1>")
	assert.Contains(t, out, "<strong>20 days</strong>")
	assert.NotContains(t, out, "<script>alert(1)</script>")
	assert.Contains(t, out, `value="b" onchange="this.form.submit()" checked`)
	assert.Contains(t, out, `placeholder="Ask something"`)
	assert.Contains(t, out, `data-spinner="Searching..."`)
	assert.Contains(t, out, "hr/leave.pdf (page 3)")
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, sampleFrame(t)))

	assert.Equal(t, "# Company Document Search\n"+
		"Mode: [ ] A  [x] B\n"+
		"[assistant]\n"+
		"  **20 days** <script>alert(1)</script>\n"+
		"  📄 hr/leave.pdf (page 3)\n", buf.String())
}

func TestFrameMarshalsElements(t *testing.T) {
	data, err := json.Marshal(sampleFrame(t))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"chat_message"`)
	assert.Contains(t, string(data), `"children":[`)
}
