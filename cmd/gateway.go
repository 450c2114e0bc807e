package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/piyushgupta53/featherbot-sub000/internal/config"
	"github.com/piyushgupta53/featherbot-sub000/internal/gateway"
	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the assistant gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Provider.APIKey == "" {
		slog.Error("no provider API key configured; set FEATHERBOT_API_KEY")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := providers.NewOpenAIClient(
		cfg.Provider.Name,
		cfg.Provider.APIKey,
		cfg.Provider.APIBase,
		cfg.Agent.Model,
	)

	gw, err := gateway.New(ctx, cfg, client)
	if err != nil {
		slog.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}
	if err := gw.Start(ctx); err != nil {
		slog.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway running", "version", Version)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	gw.Stop(shutdownCtx)
}
