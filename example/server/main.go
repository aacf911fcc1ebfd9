package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Zereker/msgnet"
	"github.com/Zereker/msgnet/config"
	"github.com/Zereker/msgnet/example/protocol"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "msgnet-server",
		Short: "Example msgnet game server",
		Long: `Accepts clients, greets them with ServerAccept, bounces ServerPing
and relays MessageAll to every other client as ServerMessage.

Settings come from an optional YAML file and MSGNET_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))

	loader, err := config.NewLoader(configPath, &config.ServerConfig{}, logger)
	if err != nil {
		return err
	}
	defer loader.Close()

	cfg := loader.Config().(*config.ServerConfig)
	level.Set(cfg.Level())

	// Only the log level can change without a restart.
	loader.OnChange(func(_, newVal config.Config) error {
		level.Set(newVal.(*config.ServerConfig).Level())
		return nil
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch disabled", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	g := &game{logger: logger}
	server := msgnet.NewServer[protocol.MsgType](cfg.Port, g, cfg.Options(logger, cfg.Metrics(reg))...)
	g.server = server

	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	admin := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newAdminRouter(server, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin listening", "addr", cfg.MetricsAddr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down server...")
			return nil
		case <-ticker.C:
			server.Update(cfg.UpdateBatch)
		}
	}
}
