package cmd

import (
	"fmt"
	"io"

	"github.com/adalundhe/envolve/core/versioning"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <service|path> [NAME]",
	Short: "Show the recorded changes of a service",
	Long: `With NAME, show the entries that changed that variable, most recent first.
Without it, show every entry in the order it was recorded.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runHistory,
}

var historyFormat string

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "output format (table, json, yaml, plain)")
}

// yamlEntry mirrors the log's JSON shape for YAML export.
type yamlEntry struct {
	ID        string       `yaml:"id,omitempty"`
	Timestamp string       `yaml:"timestamp"`
	Changes   []yamlChange `yaml:"changes"`
}

type yamlChange struct {
	FieldName string  `yaml:"fieldName"`
	OldValue  *string `yaml:"oldValue,omitempty"`
	Value     string  `yaml:"value"`
}

func toYAMLEntries(entries []versioning.VersionEntry) []yamlEntry {
	out := make([]yamlEntry, 0, len(entries))
	for _, e := range entries {
		ye := yamlEntry{ID: e.ID, Timestamp: versioning.FormatTimestamp(e.Timestamp)}
		for _, c := range e.Changes {
			yc := yamlChange{FieldName: c.FieldName, Value: c.Value}
			if old, ok := c.OldValue.Get(); ok {
				yc.OldValue = &old
			}
			ye.Changes = append(ye.Changes, yc)
		}
		out = append(out, ye)
	}
	return out
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := parseOutputFormat(historyFormat)
	if err != nil {
		return err
	}

	path, err := app.engine.EnvPath(args[0])
	if err != nil {
		return err
	}

	var (
		entries []versioning.VersionEntry
		field   string
	)
	if len(args) == 2 {
		field = args[1]
		entries, err = app.engine.History(cmd.Context(), path, field)
	} else {
		entries, err = app.engine.Log(cmd.Context(), path)
	}
	if err != nil {
		return err
	}

	return renderHistory(cmd.OutOrStdout(), format, entries, field)
}

func renderHistory(w io.Writer, format outputFormat, entries []versioning.VersionEntry, field string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, entries)
	case formatYAML:
		return writeYAML(w, toYAMLEntries(entries))
	case formatPlain:
		for _, e := range entries {
			for _, c := range e.Changes {
				if field != "" && c.FieldName != field {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(e.ID), versioning.FormatTimestamp(e.Timestamp), c.FieldName, c.OldValue, c.Value)
			}
		}
		return nil
	}

	if len(entries) == 0 {
		muted(w, "No history recorded.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		for _, c := range e.Changes {
			if field != "" && c.FieldName != field {
				continue
			}
			rows = append(rows, []string{shortID(e.ID), e.Timestamp.Local().Format("2006-01-02 15:04:05"), c.FieldName, c.OldValue.String(), c.Value})
		}
	}
	return renderTable(w, []string{"ID", "TIME", "FIELD", "OLD", "NEW"}, rows)
}

// shortID abbreviates a generated entry id for display; FindEntry accepts the
// prefix. Positional ids of older entries are shown whole.
func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if _, err := uuid.Parse(id); err == nil {
		return id[:8]
	}
	return id
}
