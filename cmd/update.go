package cmd

import (
	"fmt"
	"io"

	"github.com/adalundhe/envolve/core/envmutation"
	"github.com/adalundhe/envolve/core/fuzzy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// update
// =============================================================================

var updateCmd = &cobra.Command{
	Use:     "update <service|path> <NAME> <VALUE>",
	Aliases: []string{"u"},
	Short:   "Set one variable and record the change",
	Args:    cobra.ExactArgs(3),
	RunE:    runUpdate,
}

// =============================================================================
// update-all
// =============================================================================

var updateAllCmd = &cobra.Command{
	Use:     "update-all <old-value|NAME> <new-value>",
	Aliases: []string{"ua"},
	Short:   "Replace a value in every managed service",
	Long: `Replace every variable holding <old-value> with <new-value> across all
services. With --fuzzy, connection strings that differ only in their
credentials also match. With --name, the first argument is a variable name
and that variable is set in every service defining it.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdateAll,
}

var (
	updateAllFuzzy bool
	updateAllName  bool
	updateAllOnly  []string
)

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(updateAllCmd)

	updateAllCmd.Flags().BoolVar(&updateAllFuzzy, "fuzzy", false, "match connection strings ignoring embedded credentials")
	updateAllCmd.Flags().BoolVar(&updateAllName, "name", false, "treat the first argument as a variable name")
	updateAllCmd.Flags().StringSliceVar(&updateAllOnly, "only", nil, "limit to services matching these globs")
	updateAllCmd.MarkFlagsMutuallyExclusive("fuzzy", "name")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	path, err := app.engine.EnvPath(args[0])
	if err != nil {
		return err
	}
	field, value := args[1], args[2]

	record, err := app.engine.UpdateVariable(cmd.Context(), path, field, value)
	if err != nil {
		return err
	}

	app.log.Info("variable updated", zap.String("path", path), zap.String("field", field))
	success(cmd.OutOrStdout(), "%s: %s -> %s", field, record.OldValue, record.Value)
	return nil
}

func runUpdateAll(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	first, value := args[0], args[1]
	scope := envmutation.Scope{Only: updateAllOnly}

	question := fmt.Sprintf("Replace %q with %q in every matching service?", first, value)
	if updateAllName {
		question = fmt.Sprintf("Set %s=%s in every service that defines it?", first, value)
	}
	if updateAllFuzzy {
		describeFuzzyPattern(out, first)
	}
	if err := newPrompter(cmd).confirm(question); err != nil {
		return err
	}

	var (
		paths []string
		err   error
	)
	if updateAllName {
		paths, err = app.engine.UpdateNameEverywhere(cmd.Context(), app.engine.Home(), first, value, scope)
	} else {
		mode := fuzzy.ModeExact
		if updateAllFuzzy {
			mode = fuzzy.ModeFuzzy
		}
		matcher, merr := fuzzy.ForMode(mode)
		if merr != nil {
			return merr
		}
		paths, err = app.engine.UpdateValueEverywhere(cmd.Context(), app.engine.Home(), first, value, matcher, scope)
	}

	for _, p := range paths {
		success(out, "Updated %s", stylePath.Render(p))
	}
	app.log.Info("bulk update", zap.Strings("paths", paths), zap.Bool("by_name", updateAllName), zap.Bool("fuzzy", updateAllFuzzy))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		muted(out, "No matching variables found.")
	}
	return nil
}

// describeFuzzyPattern shows which credentials a fuzzy pattern pins.
func describeFuzzyPattern(w io.Writer, pattern string) {
	target := fuzzy.StripCredentials(pattern)
	if creds, ok := fuzzy.ExtractCredentials(pattern); ok {
		muted(w, "Matching %s on %s", creds, target)
		return
	}
	muted(w, "Matching any credentials on %s", target)
}
