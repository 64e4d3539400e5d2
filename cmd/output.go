package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Styles
// =============================================================================

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleCell    = lipgloss.NewStyle().Padding(0, 1)
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stylePath    = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	styleBorder  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// =============================================================================
// Formats
// =============================================================================

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
	formatPlain outputFormat = "plain"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case formatTable, formatJSON, formatYAML, formatPlain:
		return f, nil
	default:
		return "", coreerrors.Invalid("format", "", fmt.Errorf("unknown output format %q (want table, json, yaml or plain)", s))
	}
}

// =============================================================================
// Writers
// =============================================================================

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader.Padding(0, 1)
			}
			return styleCell
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleSuccess.Render(fmt.Sprintf(format, args...)))
}

func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleWarn.Render(fmt.Sprintf(format, args...)))
}

func muted(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleMuted.Render(fmt.Sprintf(format, args...)))
}
