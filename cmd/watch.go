package cmd

import (
	"context"

	"github.com/adalundhe/envolve/core/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Record edits made to managed env files outside envolve",
	Long: `Watch every service under the envolve home and, when an env file changes,
record the variables that differ from its history. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchInclude []string

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchInclude, "include", nil, "only watch services matching these globs")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := watcher.DefaultConfig(app.engine.Home())
	cfg.FileName = app.engine.EnvFileName()
	cfg.Include = watchInclude
	cfg.Exclude = app.cfg.Watch.Exclude
	cfg.Debounce = app.cfg.Watch.Debounce

	w, err := watcher.New(cfg)
	if err != nil {
		return err
	}
	defer w.Stop()

	ctx := cmd.Context()
	events, errs, err := w.Start(ctx)
	if err != nil {
		return err
	}

	muted(cmd.OutOrStdout(), "Watching %s (Ctrl-C to stop)", app.engine.Home())
	app.log.Info("watch started", zap.String("home", app.engine.Home()), zap.Strings("include", watchInclude))

	return consumeEvents(ctx, cmd, events, errs)
}

// consumeEvents captures each reported change until the event stream ends.
func consumeEvents(ctx context.Context, cmd *cobra.Command, events <-chan watcher.Event, errs <-chan error) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			app.log.Warn("watch error", zap.Error(err))
		case ev, ok := <-events:
			if !ok {
				app.log.Info("watch stopped")
				return nil
			}
			if ev.Op == watcher.OpDelete || ev.Op == watcher.OpRename {
				app.log.Warn("env file removed", zap.String("path", ev.Path), zap.Stringer("op", ev.Op))
				continue
			}

			entry, err := app.engine.Capture(ctx, ev.Path)
			if err != nil {
				// A damaged or locked log must not stop the watch.
				app.log.Error("capture failed", zap.String("path", ev.Path), zap.Error(err))
				continue
			}
			if entry == nil {
				app.log.Debug("no untracked changes", zap.String("path", ev.Path))
				continue
			}

			fields := make([]string, 0, len(entry.Changes))
			for _, c := range entry.Changes {
				fields = append(fields, c.FieldName)
			}
			app.log.Info("external edit recorded", zap.String("path", ev.Path), zap.String("entry", entry.ID), zap.Strings("fields", fields))
			success(out, "Recorded %d change(s) in %s", len(entry.Changes), stylePath.Render(ev.Path))
		}
	}
}
