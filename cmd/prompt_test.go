package cmd

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrompter(input string) (*prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return &prompter{in: bufio.NewReader(strings.NewReader(input)), out: &out}, &out
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"y\n", nil},
		{"YES\n", nil},
		{"n\n", errAborted},
		{"\n", errAborted},
		{"", errAborted},
		{"y", nil},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			p, out := testPrompter(tt.input)
			assert.ErrorIs(t, p.confirm("Proceed?"), tt.want)
			assert.Contains(t, out.String(), "Proceed? [y/N]")
		})
	}
}

func TestConfirmAssumeYes(t *testing.T) {
	p, out := testPrompter("")
	p.assume = true
	assert.NoError(t, p.confirm("Proceed?"))
	assert.Empty(t, out.String())
}

func TestPromptsRefuseNonTerminalFiles(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})

	p := &prompter{in: bufio.NewReader(r), file: r, out: &bytes.Buffer{}}
	assert.False(t, p.interactive())

	err = p.confirm("Proceed?")
	assert.ErrorIs(t, err, coreerrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "--yes")

	_, err = p.choose("Pick", "--entry", []string{"a"})
	assert.ErrorIs(t, err, coreerrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "--entry")
}

func TestChoose(t *testing.T) {
	p, out := testPrompter("x\n7\n2\n")
	idx, err := p.choose("Pick one", "--entry", []string{"first", "second", "third"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Contains(t, out.String(), "  2) second")
	assert.Equal(t, 2, strings.Count(out.String(), "invalid choice"))

	p, _ = testPrompter("\n")
	idx, err = p.choose("Pick one", "--entry", []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	p, _ = testPrompter("")
	_, err = p.choose("Pick one", "--entry", []string{"first"})
	assert.ErrorIs(t, err, errAborted)

	p, _ = testPrompter("1\n")
	_, err = p.choose("Pick one", "--entry", nil)
	assert.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestChooseTruncatesByDisplayWidth(t *testing.T) {
	p, out := testPrompter("1\n")
	long := strings.Repeat("é", 120)

	_, err := p.choose("Pick one", "--entry", []string{long})
	require.NoError(t, err)

	line := strings.Split(out.String(), "\n")[1]
	assert.True(t, utf8.ValidString(line))
	assert.True(t, strings.HasSuffix(line, "…"))
	assert.LessOrEqual(t, ansi.StringWidth(line), p.width())
}
