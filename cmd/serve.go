package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wasmkey/internal/monitoring"
	"wasmkey/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (default from config: 127.0.0.1:8000)")
}

func serveRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := cfg.Listen
	if flagListen != "" {
		addr = flagListen
	}

	metrics := monitoring.NewMetrics()
	x, cleanup, err := newExtractor(ctx, metrics.ObserveTransition)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openHistory()
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	srv := server.New(server.Options{
		Extractor:       x,
		Logger:          logger.Named("server"),
		Metrics:         metrics,
		History:         store,
		BaseURL:         cfg.BaseURL,
		AllowedPrefixes: cfg.AllowedPrefixes,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.RateLimitEnabled,
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		Version: Version,
		Debug:   cfg.Debug,
	})

	logger.Info("serving",
		zap.String("addr", addr),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("history", store != nil),
	)
	return srv.Run(ctx, addr)
}
