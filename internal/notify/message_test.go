package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderHTMLLayout(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "🟢",
		Title: "CE Entry",
		Sections: []MessageSection{
			{Title: "Trade", Lines: []string{"SENSEX2590981500CE", "entry 310.50"}},
			{Title: "Signal", Lines: []string{"band 1.20, proximity 6.00"}},
		},
		Footer:    "test mode",
		Timestamp: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
	}
	out := msg.RenderHTML()

	assert.Contains(t, out, "<b>🟢 CE Entry</b>")
	assert.Contains(t, out, "<b>Trade</b>")
	assert.Contains(t, out, "• SENSEX2590981500CE")
	assert.Contains(t, out, "test mode")
	assert.Contains(t, out, "2025-09-01 10:00:00")
}

func TestRenderHTMLEscapesMarkup(t *testing.T) {
	msg := StructuredMessage{
		Title:    "a < b & c > d",
		Sections: []MessageSection{{Lines: []string{"<script>x</script>"}}},
	}
	out := msg.RenderHTML()
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "a &lt; b &amp; c &gt; d")
}

func TestRenderHTMLSkipsEmptySections(t *testing.T) {
	msg := StructuredMessage{
		Title: "Header",
		Sections: []MessageSection{
			{Title: "Empty", Lines: []string{"", "   "}},
			{Title: "Full", Lines: []string{"x"}},
		},
	}
	out := msg.RenderHTML()
	assert.NotContains(t, out, "Empty")
	assert.Contains(t, out, "Full")
}

func TestRenderHTMLTrimsToAPILimit(t *testing.T) {
	long := strings.Repeat("a", 5000)
	msg := StructuredMessage{Title: "T", Sections: []MessageSection{{Lines: []string{long}}}}
	out := msg.RenderHTML()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}
