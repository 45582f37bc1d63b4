package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redactai/redactai/internal/app"
	"github.com/redactai/redactai/internal/audit"
	"github.com/redactai/redactai/internal/auth"
	"github.com/redactai/redactai/internal/notify"
	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/server"
	"github.com/redactai/redactai/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tel, err := telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:  cfg.Telemetry.Enabled,
			Endpoint: cfg.Telemetry.Endpoint,
			Protocol: cfg.Telemetry.Protocol,
			Service:  "redactai",
			Version:  Version,
		})
		if err != nil {
			return err
		}
		defer tel.Shutdown(context.Background())

		authz, err := auth.NewFromConfig(cfg)
		if err != nil {
			return err
		}

		eng, err := app.BuildEngine(cfg, tel)
		if err != nil {
			return err
		}
		defer eng.Close()

		store, err := audit.Open(audit.Config{
			Path:          cfg.Audit.Path,
			LogLevel:      cfg.Audit.LogLevel,
			ExcerptLength: cfg.Audit.ExcerptLength,
			JournalMode:   cfg.Audit.JournalMode,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		sinks, err := notify.BuildSinks(cfg.Notify)
		if err != nil {
			return err
		}
		dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
			QueueSize:       cfg.Notify.QueueSize,
			Workers:         cfg.Notify.Workers,
			ShutdownTimeout: cfg.Notify.ShutdownTimeout,
			DeliveryTimeout: cfg.Notify.DeliveryTimeout,
			Telemetry:       tel,
		}, sinks)
		defer dispatcher.Close(context.Background())

		srv, err := server.New(server.Deps{
			Config:         cfg,
			Auth:           authz,
			Engine:         eng,
			Store:          store,
			Notifier:       dispatcher,
			Telemetry:      tel,
			ClassifierMode: eng.Mode,
		})
		if err != nil {
			return err
		}
		redact.Logf("redactai %s starting: users=%d sinks=%d", Version, len(cfg.Users), len(sinks))
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
