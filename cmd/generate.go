package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var generateCmd = &cobra.Command{
	Use:   "generate <service|path>",
	Short: "Write a .env.example with every value blanked",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	path, err := app.engine.EnvPath(args[0])
	if err != nil {
		return err
	}

	target, exists, err := app.engine.ExamplePath(path)
	if err != nil {
		return err
	}
	if exists {
		if err := newPrompter(cmd).confirm("Overwrite " + target + "?"); err != nil {
			return err
		}
	}

	written, err := app.engine.GenerateExample(path)
	if err != nil {
		return err
	}
	app.log.Info("example generated", zap.String("path", written))
	success(cmd.OutOrStdout(), "Wrote %s", stylePath.Render(written))
	return nil
}
