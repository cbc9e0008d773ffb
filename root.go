package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

type cliContextKey struct{}

// CLIContext is what every subcommand gets after the root pre-run: the
// effective config, where it came from, and the logger built from it.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Logger  *slog.Logger
	Level   *slog.LevelVar

	closeLog func()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ha-bosch",
		Short:   "Bosch EasyControl (POINTTAPI) bridge",
		Long:    "Polls Bosch EasyControl gateways through the POINTTAPI cloud and publishes them to Home Assistant over MQTT.",
		Version: version,
		// Silence Cobra's error/usage printing; main reports errors itself.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.closeLog != nil {
				cc.closeLog()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for entries and the state database")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newAuthURLCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newDiagnosticsCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the config through defaults, file, environment
// and flags, then builds the logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	if cmd.Flags().Changed("data-dir") {
		cli.DataDir = &flagDataDir
	}

	env := config.ReadEnvOverrides()

	cfg, path, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{Cfg: cfg, CfgPath: path, Env: env, CLI: cli}

	logger, level, closeLog, err := buildLogger(cfg.Logging, flagVerbose, flagQuiet, os.Stderr)
	if err != nil {
		return nil, err
	}

	cc.Logger, cc.Level, cc.closeLog = logger, level, closeLog

	return cc, nil
}

func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext is for RunE functions, which only run after the pre-run
// stored a context.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("ha-bosch: command ran without CLI context")
	}

	return cc
}

// httpClient is the client for token and resource requests. The timeout is
// the per-request bound from [polling] request_timeout.
func (cc *CLIContext) httpClient() *http.Client {
	return &http.Client{Timeout: cc.Cfg.Polling.RequestTimeoutDuration()}
}

// Statusf prints a status message to stderr unless --quiet is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// parseLevel maps a config log level to slog.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLogger creates the process logger. The config level is the
// baseline; --verbose and --quiet override it. log_format "auto" picks
// text on a terminal and JSON otherwise. With log_file set, output is
// appended there instead of stderr. The returned LevelVar lets a config
// reload change the level of a running daemon.
func buildLogger(lc config.LoggingConfig, verbose, quiet bool, stderr *os.File) (*slog.Logger, *slog.LevelVar, func(), error) {
	level := new(slog.LevelVar)
	level.Set(effectiveLevel(lc.LogLevel, verbose, quiet))

	var (
		out      io.Writer = stderr
		terminal           = isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd())
		closeFn            = func() {}
	)

	if lc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(lc.LogFile), 0o700); err != nil {
			return nil, nil, nil, fmt.Errorf("creating log directory: %w", err)
		}

		f, err := os.OpenFile(lc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out, terminal = f, false
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch {
	case lc.LogFormat == "json", lc.LogFormat != "text" && !terminal:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), level, closeFn, nil
}

func effectiveLevel(configured string, verbose, quiet bool) slog.Level {
	switch {
	case verbose:
		return slog.LevelDebug
	case quiet:
		return slog.LevelError
	default:
		return parseLevel(configured)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, errReauthRequired) {
		os.Exit(exitReauth)
	}

	os.Exit(1)
}
