package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/revolico-scraper/internal/config"
	"github.com/maltedev/revolico-scraper/internal/consumer"
	"github.com/maltedev/revolico-scraper/internal/notify"
	"github.com/maltedev/revolico-scraper/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	addr := cfg.Redis.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "addr", addr, "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", addr)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, log)
		if err != nil {
			log.Error("failed to start telegram bot", "error", err)
			os.Exit(1)
		}
		notifier = tg
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, events are acknowledged without notification")
	}

	c := consumer.New(rdb, notifier, consumer.Config{
		Stream: os.Getenv("REDIS_STREAM"),
		Group:  os.Getenv("REDIS_CONSUMER_GROUP"),
		Name:   os.Getenv("REDIS_CONSUMER_NAME"),
	}, log)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer stopped")
}
