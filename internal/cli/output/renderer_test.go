package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode Mode, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewRendererWithTTY(&out, &errOut, mode, tty), &out, &errOut
}

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		mode Mode
		tty  bool
		want Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r, _, _ := newTestRenderer(tt.mode, tt.tty)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestRenderer_NonTerminalWriterIsNotTTY(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, &buf, ModeAuto)
	assert.False(t, r.IsTTY())
}

func TestRenderer_Messages(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText, false)

	r.Success("suite passed")
	r.Warning("frozen")
	r.Error("suite failed")
	r.StatusLine("tbfdw_regress_42", "success", "dropped")
	r.StatusLine("tbfdw_regress_43", "skipped", "")

	assert.Equal(t,
		"✓ suite passed\n! frozen\n✓ tbfdw_regress_42 dropped\n- tbfdw_regress_43\n",
		out.String())
	assert.Equal(t, "✗ suite failed\n", errOut.String())
}

func TestRenderer_Header(t *testing.T) {
	r, out, _ := newTestRenderer(ModeMarkdown, false)
	r.Header(2, "select")
	assert.Equal(t, "## select\n\n", out.String())

	r, out, _ = newTestRenderer(ModeText, false)
	r.Header(1, "Test cases")
	assert.Equal(t, "Test cases\n", out.String())
}

func TestRenderer_Table(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown, false)
		r.Table([]string{"Status", "Database"}, [][]string{{"passed", "tbfdw_regress_1"}})
		got := strings.ToLower(out.String())
		assert.Contains(t, got, "| status | database |")
		assert.Contains(t, got, "| passed | tbfdw_regress_1 |")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText, true)
		r.Table([]string{"Status"}, [][]string{{"failed"}})
		assert.Contains(t, strings.ToUpper(out.String()), "STATUS")
		assert.Contains(t, out.String(), "failed")
		assert.Contains(t, out.String(), "┌")
	})
}

func TestRenderer_JSON(t *testing.T) {
	r, out, _ := newTestRenderer(ModeJSON, false)
	require.NoError(t, r.JSON(map[string]int{"cases": 2}))
	assert.JSONEq(t, `{"cases": 2}`, out.String())
}

func TestFormatHeader(t *testing.T) {
	assert.Equal(t, "# Runs", FormatHeader(1, "Runs"))
	assert.Equal(t, "### Runs", FormatHeader(3, "Runs"))
	assert.Equal(t, "# Runs", FormatHeader(0, "Runs"))
}
