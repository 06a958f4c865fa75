package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lspcore/internal/config"
	"github.com/dshills/lspcore/internal/lsp"
)

var (
	configPath string
	verbose    bool
	reqTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lspcore",
	Short: "Language server client for diagnostics and code intelligence",
	Long: `lspcore launches language servers over stdio, keeps documents in
sync, and surfaces diagnostics, completions, and navigation results. It
recovers crashed servers automatically, replaying open documents.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $LSPCORE_CONFIG or the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 0, "per-request timeout override")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if reqTimeout > 0 {
		cfg.Requests.Timeout = config.Duration(reqTimeout)
	}
	return cfg, nil
}

// serverEntries merges configured servers with auto-detected ones;
// explicit configuration wins.
func serverEntries(cfg *config.Config) map[string]lsp.ServerConfig {
	entries := make(map[string]lsp.ServerConfig)
	for lang, sc := range lsp.AutoDetectServers() {
		entries[lang] = sc
	}
	for lang, entry := range cfg.Languages {
		sc := lsp.ServerConfig{
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			WorkDir: entry.WorkDir,
		}
		if len(entry.InitializationOptions) > 0 {
			sc.InitializationOptions = entry.InitializationOptions
		}
		entries[lang] = sc
	}
	return entries
}

// newRegistry builds a registry wired with the config's tuning, with
// extra session options appended.
func newRegistry(cfg *config.Config, root string, sessionOpts ...lsp.SessionOption) *lsp.Registry {
	if root == "" {
		root = cfg.WorkspaceRoot
	}
	if root == "" {
		root = lsp.FindWorkspaceRoot(".")
	}

	health := lsp.DefaultHealthConfig()
	if cfg.Health.ProbeInterval > 0 {
		health.ProbeInterval = cfg.Health.ProbeInterval.Std()
	}
	if cfg.Health.ProbeTimeout > 0 {
		health.ProbeTimeout = cfg.Health.ProbeTimeout.Std()
	}
	if cfg.Health.DegradedLatency > 0 {
		health.DegradedLatency = cfg.Health.DegradedLatency.Std()
	}
	if cfg.Health.FailureThreshold > 0 {
		health.FailureThreshold = cfg.Health.FailureThreshold
	}
	if cfg.Health.MaxRestarts > 0 {
		health.MaxRestarts = cfg.Health.MaxRestarts
	}
	if cfg.Health.InitialBackoff > 0 {
		health.InitialBackoff = cfg.Health.InitialBackoff.Std()
	}
	if cfg.Health.MaxBackoff > 0 {
		health.MaxBackoff = cfg.Health.MaxBackoff.Std()
	}
	if cfg.Health.ResetWindow > 0 {
		health.ResetWindow = cfg.Health.ResetWindow.Std()
	}

	opts := []lsp.SessionOption{}
	if cfg.Requests.Timeout > 0 {
		opts = append(opts, lsp.WithRequestTimeout(cfg.Requests.Timeout.Std()))
	}
	if cfg.Requests.DebounceInterval > 0 {
		opts = append(opts, lsp.WithDebounceInterval(cfg.Requests.DebounceInterval.Std()))
	}
	if cfg.Requests.MaxInFlight > 0 {
		opts = append(opts, lsp.WithMaxInFlight(cfg.Requests.MaxInFlight))
	}
	opts = append(opts, sessionOpts...)

	return lsp.NewRegistry(
		lsp.WithRegistryLogger(slog.Default()),
		lsp.WithRegistryWorkspaceRoot(root),
		lsp.WithHealthConfig(health),
		lsp.WithSessionOptions(opts...),
	)
}

// registerForFiles starts servers for every language among paths that has
// a server entry. Returns the languages that were started.
func registerForFiles(ctx context.Context, reg *lsp.Registry, entries map[string]lsp.ServerConfig, paths []string) ([]string, error) {
	started := []string{}
	for _, path := range paths {
		lang := lsp.DetectLanguageID(path)
		if lang == "" {
			continue
		}
		entry, ok := entries[lang]
		if !ok {
			slog.Warn("no server for language", "language", lang, "path", path)
			continue
		}
		err := reg.Register(ctx, lang, entry)
		if err == nil {
			started = append(started, lang)
			continue
		}
		if !isAlreadyRegistered(err) {
			return started, err
		}
	}
	return started, nil
}

func isAlreadyRegistered(err error) bool {
	return errors.Is(err, lsp.ErrServerAlreadyRegistered)
}
