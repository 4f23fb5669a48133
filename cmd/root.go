// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"wasmkey/internal/config"
	"wasmkey/internal/extract"
	"wasmkey/internal/history"
	"wasmkey/internal/httputil"
	"wasmkey/internal/logging"
	"wasmkey/internal/runner"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagConfig     string
	flagBaseURL    string
	flagQuality    string
	flagLanguage   string
	flagModuleFile string
	flagPixels     string
	flagOutput     string
	flagLogLevel   string
	flagLenient    bool
	flagNoHistory  bool
	flagDebug      bool
)

// cfg holds the loaded configuration (defaults < config file < env < flags).
var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "wasmkey",
	Short: "Obtain MegaCloud stream tokens by running the provider's wasm module",
	Long: `wasmkey runs the MegaCloud player's WebAssembly module inside an emulated
browser environment to obtain the request token (pid, kversion, kid), then
resolves and decrypts the stream sources.`,
	SilenceUsage:       true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: syncLogger,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default: $XDG_CONFIG_HOME/wasmkey/config.toml)")
	pf.StringVar(&flagBaseURL, "base-url", "", "Provider base URL, e.g. https://megacloud.tv")
	pf.StringVarP(&flagQuality, "quality", "q", "", "Preferred quality: auto | 360 | 480 | 720 | 1080")
	pf.StringVarP(&flagLanguage, "language", "l", "", "Subtitle language (default: english)")
	pf.StringVar(&flagModuleFile, "module-file", "", "Run a local wasm module instead of fetching it")
	pf.StringVar(&flagPixels, "pixels", "", "Raw RGBA file for the decoy image (default: zero-filled)")
	pf.StringVarP(&flagOutput, "output", "o", "text", "Output format: text | json | yaml")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug | info | warn | error")
	pf.BoolVar(&flagLenient, "lenient", false, "Tolerate eval sources the host does not recognize")
	pf.BoolVar(&flagNoHistory, "no-history", false, "Do not record this run in the history")
	pf.BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration, then builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFrom(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	if flagQuality != "" {
		cfg.Quality = flagQuality
	}
	if flagLanguage != "" {
		cfg.SubsLanguage = flagLanguage
	}
	if flagPixels != "" {
		cfg.PixelsFile = flagPixels
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLenient {
		cfg.StrictEval = false
	}
	if flagNoHistory {
		cfg.History = false
	}
	if flagDebug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch flagOutput {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", flagOutput)
	}

	logger, err = logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	return nil
}

func syncLogger(cmd *cobra.Command, args []string) error {
	// Sync on stderr fails with EINVAL on some platforms; nothing to report.
	_ = logger.Sync()
	return nil
}

// newExtractor wires the pipeline from cfg. observe may be nil.
func newExtractor(ctx context.Context, observe func(runner.Transition)) (*extract.Extractor, func(), error) {
	pixels, err := extract.LoadPixels(cfg.PixelsFile)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var cache wazero.CompilationCache
	dir, err := cfg.CompileCacheDir()
	if err != nil {
		return nil, nil, err
	}
	if dir != "" {
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening compilation cache: %w", err)
		}
		cleanup = func() { cache.Close(ctx) }
	}

	client := newClient()
	driver := runner.New(runner.Options{
		Logger:     logger.Named("runner"),
		Entrypoint: cfg.Entrypoint,
		Install:    cfg.InstallExport,
		Navigate:   cfg.NavigateExport,
		StrictEval: cfg.StrictEval,
		Cache:      cache,
		Observe:    observe,
	})

	opts := extract.Options{
		Client:         client,
		Driver:         driver,
		Logger:         logger.Named("extract"),
		BaseURL:        cfg.BaseURL,
		EmbedReferer:   cfg.EmbedReferer,
		ModuleURL:      cfg.ModuleURL(),
		ModuleVersion:  cfg.ModuleVersion,
		ImageURL:       cfg.ImageURL(),
		BrowserVersion: cfg.BrowserVersion,
		Pixels:         pixels,
		Quality:        cfg.Quality,
	}
	if flagModuleFile != "" {
		opts.Module = runner.FileSource(flagModuleFile)
	}
	return extract.New(opts), cleanup, nil
}

func newClient() *httputil.Client {
	return httputil.NewClient(httputil.Options{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Logger:    logger.Named("http"),
	})
}

// openHistory returns nil when history is disabled.
func openHistory() (*history.Store, error) {
	if !cfg.History {
		return nil, nil
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

// record saves one pipeline call; failures are logged, never returned.
func record(ctx context.Context, store *history.Store, input string, res *extract.Result, err error, started time.Time) {
	if store == nil {
		return
	}
	e, ok := history.Record(cfg.BaseURL, input, res, err, started)
	if !ok {
		return
	}
	if herr := store.Save(ctx, e); herr != nil {
		logger.Warn("saving history failed", zap.Error(herr))
	}
}
