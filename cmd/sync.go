package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync [project-dir]",
	Short: "Move a project's .env under envolve and link it back",
	Long: `Copy the .env file of a project directory (default: the current directory)
into the envolve home as a service, record its variables in the service's
history and replace the project file with a symlink to the managed copy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var syncService string

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncService, "service", "s", "", "service name (default: the project directory name)")
}

func runSync(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		dir = args[0]
	}

	result, err := app.engine.Sync(cmd.Context(), dir, syncService)
	if err != nil {
		return err
	}

	if result.AlreadyLinked {
		muted(out, "%s already links to %s", result.LinkPath, stylePath.Render(result.ManagedPath))
		return nil
	}

	app.log.Info("service synced",
		zap.String("service", result.Service),
		zap.String("managed", result.ManagedPath),
		zap.Int("added", result.Added),
		zap.Int("changed", result.Changed),
	)
	success(out, "Synced %s: %d added, %d changed", result.Service, result.Added, result.Changed)
	muted(out, "%s -> %s", result.LinkPath, result.ManagedPath)
	return nil
}
