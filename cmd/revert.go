package cmd

import (
	"fmt"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var revertCmd = &cobra.Command{
	Use:     "revert <service|path> <NAME>",
	Aliases: []string{"r"},
	Short:   "Set a variable back to a recorded value",
	Long: `Set NAME to the value recorded by a history entry. The entry is chosen
with --entry (an id or id prefix from ` + "`envolve history`" + `) or interactively.
With --before, the value the variable held before that entry is used.
A revert is itself recorded as a new change.`,
	Args: cobra.ExactArgs(2),
	RunE: runRevert,
}

var (
	revertEntry  string
	revertBefore bool
)

func init() {
	rootCmd.AddCommand(revertCmd)
	revertCmd.Flags().StringVarP(&revertEntry, "entry", "e", "", "history entry id or prefix")
	revertCmd.Flags().BoolVar(&revertBefore, "before", false, "use the value from before the entry")
}

func runRevert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := app.engine.EnvPath(args[0])
	if err != nil {
		return err
	}
	field := args[1]

	entryID := revertEntry
	if entryID == "" {
		entryID, err = pickEntry(cmd, path, field)
		if err != nil {
			return err
		}
	}

	record, err := app.engine.RevertToEntry(ctx, path, field, entryID, revertBefore)
	if err != nil {
		return err
	}

	app.log.Info("variable reverted",
		zap.String("path", path),
		zap.String("field", field),
		zap.String("entry", entryID),
		zap.Bool("before", revertBefore),
	)
	success(cmd.OutOrStdout(), "%s: %s -> %s", field, record.OldValue, record.Value)
	return nil
}

// pickEntry asks which entry of field's history to revert to.
func pickEntry(cmd *cobra.Command, path, field string) (string, error) {
	history, err := app.engine.History(cmd.Context(), path, field)
	if err != nil {
		return "", err
	}

	var (
		ids     []string
		options []string
	)
	for _, e := range history {
		change, _ := e.Change(field)
		target := change.Value
		if revertBefore {
			target = change.OldValue.String()
		}
		ids = append(ids, e.ID)
		options = append(options, fmt.Sprintf("%s  %s  %s", shortID(e.ID), e.Timestamp.Local().Format("2006-01-02 15:04:05"), target))
	}
	if len(ids) == 0 {
		return "", coreerrors.NotFound("revert", path, field)
	}

	idx, err := newPrompter(cmd).choose(fmt.Sprintf("Versions of %s (most recent first):", field), "--entry", options)
	if err != nil {
		return "", err
	}
	return ids[idx], nil
}
