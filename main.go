package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitcoach/adherence/internal/config"
	"github.com/fitcoach/adherence/internal/database"
	"github.com/fitcoach/adherence/internal/notify"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/server"
	"github.com/fitcoach/adherence/internal/services"
)

const (
	notifyBuffer  = 256
	notifyTimeout = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(db)

	authService, err := services.NewAuthService(ctx, cfg, userRepo)
	if err != nil {
		return err
	}

	notifier, closeNotifier := newNotifier(ctx, cfg)
	defer closeNotifier()

	dispatcher := notify.NewDispatcher(notifier, notifyBuffer, notifyTimeout)
	defer dispatcher.Close()

	srv := server.New(db, cfg, authService, dispatcher)
	return srv.Run(ctx)
}

// newNotifier publishes to Redis when REDIS_ADDR is set and falls back to the log otherwise.
func newNotifier(ctx context.Context, cfg config.Config) (notify.Notifier, func()) {
	if cfg.RedisAddr == "" {
		return notify.LogNotifier{}, func() {}
	}

	redisNotifier, err := notify.NewRedisNotifier(ctx, cfg.RedisAddr, cfg.RedisChannel)
	if err != nil {
		slog.Warn("redis unavailable, logging analytics events instead", "error", err)
		return notify.LogNotifier{}, func() {}
	}

	return redisNotifier, func() {
		if err := redisNotifier.Close(); err != nil {
			slog.Warn("closing redis notifier", "error", err)
		}
	}
}
