package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/adalundhe/envolve/core/filesystem"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var restoreCmd = &cobra.Command{
	Use:     "restore-env [service]",
	Aliases: []string{"restore"},
	Short:   "Rebuild a service's .env from its history",
	Long: `Rewrite the managed .env of a service (default: the current directory
name) from its recorded history alone, then link it into the current
directory unless a regular .env file is already there.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

var restoreNoLink bool

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolVar(&restoreNoLink, "no-link", false, "do not link the restored file into the current directory")
}

func runRestore(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	service := filepath.Base(cwd)
	if len(args) == 1 {
		service = args[0]
	}

	dir, err := app.engine.ServiceDir(service)
	if err != nil {
		return err
	}

	if err := newPrompter(cmd).confirm("Overwrite " + filepath.Join(dir, app.engine.EnvFileName()) + " with its reconstructed history?"); err != nil {
		return err
	}

	path, err := app.engine.Restore(cmd.Context(), dir)
	if err != nil {
		return err
	}
	app.log.Info("env file restored", zap.String("service", service), zap.String("path", path))
	success(out, "Restored %s", stylePath.Render(path))

	if restoreNoLink {
		return nil
	}
	link, err := app.engine.Link(path, cwd)
	switch {
	case errors.Is(err, filesystem.ErrNotSymlink):
		warn(out, "%s is a regular file; left it in place", filepath.Join(cwd, app.engine.EnvFileName()))
		return nil
	case err != nil:
		return err
	}
	muted(out, "%s -> %s", link, path)
	return nil
}
