package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <service|path>",
	Short: "Compare an env file with the state recorded in its history",
	Long: `Report variables whose live value differs from the value reconstructed
from history. Recorded variables missing from the file are listed first.
A change that was logged but never reached the file shows up here.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusFormat string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "output format (table, json, yaml, plain)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	format, err := parseOutputFormat(statusFormat)
	if err != nil {
		return err
	}
	path, err := app.engine.EnvPath(args[0])
	if err != nil {
		return err
	}

	diffs, err := app.engine.Drift(cmd.Context(), path)
	if err != nil {
		return err
	}

	if len(diffs) == 0 && format == formatTable {
		success(out, "%s matches its history.", path)
		return nil
	}
	return renderDifferences(out, format, diffs, "HISTORY", "FILE")
}
