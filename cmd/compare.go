package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/adalundhe/envolve/core/envmutation"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:     "compare <source> <destination>",
	Aliases: []string{"comp", "diff"},
	Short:   "Show variables whose values differ between two services",
	Args:    cobra.ExactArgs(2),
	RunE:    runCompare,
}

var compareFormat string

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVarP(&compareFormat, "format", "f", "table", "output format (table, json, yaml, plain)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	format, err := parseOutputFormat(compareFormat)
	if err != nil {
		return err
	}

	src, err := app.engine.EnvPath(args[0])
	if err != nil {
		return err
	}
	dst, err := app.engine.EnvPath(args[1])
	if err != nil {
		return err
	}

	diffs, err := app.engine.Compare(src, dst)
	if err != nil {
		return err
	}
	return renderDifferences(out, format, diffs, serviceLabel(src), serviceLabel(dst))
}

// serviceLabel names an env file by its directory.
func serviceLabel(path string) string {
	return filepath.Base(filepath.Dir(path))
}

func renderDifferences(w io.Writer, format outputFormat, diffs []envmutation.Difference, srcLabel, dstLabel string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, diffs)
	case formatYAML:
		return writeYAML(w, diffs)
	case formatPlain:
		for _, d := range diffs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, cellValue(d.Source, d.InSource), cellValue(d.Target, d.InTarget))
		}
		return nil
	}

	if len(diffs) == 0 {
		muted(w, "No differences.")
		return nil
	}
	rows := make([][]string, 0, len(diffs))
	for _, d := range diffs {
		rows = append(rows, []string{d.Name, cellValue(d.Source, d.InSource), cellValue(d.Target, d.InTarget)})
	}
	return renderTable(w, []string{"VALUES", srcLabel, dstLabel}, rows)
}

func cellValue(v string, present bool) string {
	if !present {
		return "<absent>"
	}
	return v
}
