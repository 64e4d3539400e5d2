// Package cmd implements the envolve command line.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/adalundhe/envolve/core/config"
	"github.com/adalundhe/envolve/core/envmutation"
	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/adalundhe/envolve/core/filesystem"
	"github.com/adalundhe/envolve/core/logger"
	"github.com/adalundhe/envolve/core/storage"
	"github.com/adalundhe/envolve/core/versioning"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "envolve",
	Short: "Manage service .env files with field-level history",
	Long: `envolve keeps every service's .env file under one home directory, links it
into project directories and records every variable change so any value can
be inspected or reverted later.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

var (
	rootConfigFile string
	rootHome       string
	rootLogLevel   string
	rootLogFile    string
	rootYes        bool
)

// app is the state shared by every command, built before each run.
var app *appContext

type appContext struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *envmutation.Engine
	fs     *filesystem.Manager
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootConfigFile, "config", "", "config file (default <config dir>/envolve/config.yaml)")
	flags.StringVar(&rootHome, "home", "", "directory holding managed services (default ~/.envolve)")
	flags.StringVar(&rootLogLevel, "log-level", "", "console log level: debug, info, warn, error")
	flags.StringVar(&rootLogFile, "log-file", "", "log file path")
	flags.BoolVarP(&rootYes, "yes", "y", false, "answer yes to every confirmation")
}

// Execute runs the command tree and reports errors on stderr. The failure is
// also logged at info so it reaches the log file without repeating on the
// console.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		renderError(rootCmd.ErrOrStderr(), err)
		if app != nil {
			app.log.Info("command failed", zap.Stringer("kind", coreerrors.KindOf(err)), zap.Error(err))
		}
	}
	return err
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	return exitCode(err)
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{
		File:  rootConfigFile,
		Flags: cmd.Flags(),
	})
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	built, err := newAppContext(cfg, log)
	if err != nil {
		return err
	}
	app = built

	log.Debug("configuration loaded",
		zap.String("home", cfg.Home),
		zap.String("source", cfg.Source),
		zap.String("command", cmd.CommandPath()),
	)
	return nil
}

func teardown(cmd *cobra.Command, _ []string) {
	if app == nil {
		return
	}
	app.log.Debug("command finished",
		zap.String("command", cmd.CommandPath()),
		zap.Strings("roots", app.fs.Roots()),
	)
	_ = app.log.Sync()
}

func newAppContext(cfg *config.Config, log *zap.Logger) (*appContext, error) {
	if err := storage.EnsureDir(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	fsConfig := filesystem.DefaultConfig(cfg.Home)
	fsConfig.AuditLogger = logger.NewAuditLogger(log)
	fs, err := filesystem.NewManager(fsConfig)
	if err != nil {
		return nil, err
	}

	store := versioning.NewStore(
		versioning.WithHistoryFile(cfg.HistoryFile),
		versioning.WithLegacyHistoryFile(cfg.LegacyHistoryFile),
		versioning.WithLockTimeout(cfg.LockTimeout),
	)

	excludes := append([]string{}, cfg.Watch.Exclude...)
	engine := envmutation.New(cfg.Home, store, fs,
		envmutation.WithEnvFileName(cfg.EnvFile),
		envmutation.WithDiscoverExclude(excludes...),
	)

	return &appContext{cfg: cfg, log: log, engine: engine, fs: fs}, nil
}

// stdin returns the command input as a file when it is one, for terminal
// detection.
func stdin(cmd *cobra.Command) (io.Reader, *os.File) {
	in := cmd.InOrStdin()
	f, _ := in.(*os.File)
	return in, f
}

var errAborted = errors.New("aborted")
