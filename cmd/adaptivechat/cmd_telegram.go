package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/adaptivechat/internal/gateway"
	"github.com/user/adaptivechat/internal/telegram"
)

func init() {
	rootCmd.AddCommand(telegramCmd)
}

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Run the Telegram bot",
	Args:  cobra.NoArgs,
	RunE:  runTelegram,
}

func runTelegram(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is not set (use config set or TELEGRAM_BOT_TOKEN)")
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	rt.sessions.Start()
	defer rt.sessions.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(rt.newSession, int64(cfg.MaxConcurrent))
	gw.Start(ctx)
	defer gw.Stop()

	adapter, err := telegram.New(cfg.Telegram.Token, gw)
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	slog.Info("adaptivechat telegram started",
		"api", cfg.API.BaseURL,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"confidence_threshold", cfg.Classifier.ConfidenceThreshold,
		"stream_ttl", cfg.StreamTTL(),
	)
	adapter.Start(ctx)

	slog.Info("shutting down")
	return nil
}
