package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter asks the user questions on the command's input and output.
type prompter struct {
	in     *bufio.Reader
	file   *os.File
	out    io.Writer
	assume bool
}

func newPrompter(cmd *cobra.Command) *prompter {
	in, f := stdin(cmd)
	return &prompter{
		in:     bufio.NewReader(in),
		file:   f,
		out:    cmd.ErrOrStderr(),
		assume: rootYes,
	}
}

// interactive reports whether questions can be asked. Input that is a file but
// not a terminal (a pipe or redirect) cannot answer.
func (p *prompter) interactive() bool {
	if p.file == nil {
		return true
	}
	return term.IsTerminal(int(p.file.Fd()))
}

func (p *prompter) width() int {
	if p.file != nil {
		if w, _, err := term.GetSize(int(p.file.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", errAborted
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm asks a yes/no question; --yes answers it.
func (p *prompter) confirm(question string) error {
	if p.assume {
		return nil
	}
	if !p.interactive() {
		return coreerrors.Invalid("confirm", "", fmt.Errorf("input is not a terminal; pass --yes to proceed"))
	}

	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	answer, err := p.readLine()
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

// choose lists options and returns the index picked. An empty answer picks
// the first option. hint names the flag that replaces the question when input
// is not a terminal.
func (p *prompter) choose(title, hint string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, coreerrors.New(coreerrors.KindNotFound, "select", fmt.Errorf("nothing to choose from"))
	}
	if !p.interactive() {
		return 0, coreerrors.Invalid("select", "", fmt.Errorf("input is not a terminal; pass %s", hint))
	}

	limit := p.width() - 6
	fmt.Fprintln(p.out, styleHeader.Render(title))
	for i, opt := range options {
		if limit > 10 {
			opt = ansi.Truncate(opt, limit, "…")
		}
		fmt.Fprintf(p.out, "%3d) %s\n", i+1, opt)
	}

	for {
		fmt.Fprintf(p.out, "Select [1-%d]: ", len(options))
		answer, err := p.readLine()
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintln(p.out, styleWarn.Render("invalid choice"))
	}
}
