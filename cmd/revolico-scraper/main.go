package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/revolico-scraper/internal/api"
	"github.com/maltedev/revolico-scraper/internal/app"
	"github.com/maltedev/revolico-scraper/internal/config"
	"github.com/maltedev/revolico-scraper/internal/database"
	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/fetcher"
	"github.com/maltedev/revolico-scraper/internal/jobs"
	"github.com/maltedev/revolico-scraper/internal/notify"
	"github.com/maltedev/revolico-scraper/internal/proxy"
	"github.com/maltedev/revolico-scraper/internal/whatsapp"
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

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := app.OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		relay := database.NewRelay(store.Outbox, redisClient, log, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
			BatchSize:    cfg.Redis.BatchSize,
		})
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	} else {
		log.Info("REDIS_ADDR not set, outbox events stay in the database")
	}

	hub := events.NewHub(events.DefaultHistory, log)

	var (
		proxies     *proxy.Manager
		proxyPool   fetcher.ProxyPool
		proxyLister api.ProxyLister
	)
	if len(cfg.Proxy.Proxies) > 0 {
		prober := proxy.NewFetchProber(fetcher.NewCollyFetcher(cfg.Proxy.ProbeTimeout), cfg.Proxy.TestURL)
		proxies = proxy.NewManager(cfg.Proxy.Proxies, prober, proxy.Options{
			Interval: cfg.Proxy.ProbeInterval,
			Timeout:  cfg.Proxy.ProbeTimeout,
			Logger:   log,
		})
		go proxies.Start(ctx)
		proxyPool, proxyLister = proxies, proxies
	}

	client, closeClient, err := app.NewFetchClient(cfg, proxyPool, log)
	if err != nil {
		return err
	}
	defer closeClient()

	results, err := app.OpenResults(cfg.Scraper.OutputFile)
	if err != nil {
		return err
	}

	scr, err := app.NewScraper(cfg.Scraper, cfg.Scraper.MaxListings, app.ScraperDeps{
		Client:    client,
		Customers: store.Customers,
		Results:   results,
		Events:    hub,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	wa := whatsapp.NewManager(store.Accounts, whatsapp.WebSessionFactory(whatsapp.WebOptions{
		ProfileDir:  cfg.WhatsApp.ProfileDir,
		Headless:    cfg.WhatsApp.Headless,
		Timeout:     cfg.Browser.Timeout,
		SendTimeout: cfg.WhatsApp.SendTimeout,
		Logger:      log,
	}), whatsapp.ManagerOptions{
		DailyLimit: cfg.WhatsApp.DailyLimit,
		Events:     hub,
		Logger:     log,
	})
	defer wa.Close()

	templates := whatsapp.DefaultTemplates()
	if cfg.WhatsApp.TemplatesFile != "" {
		if templates, err = whatsapp.LoadTemplates(cfg.WhatsApp.TemplatesFile); err != nil {
			return err
		}
	}
	campaign := whatsapp.NewCampaign(wa, store.Customers, templates, whatsapp.CampaignConfig{
		MinDelay:     cfg.WhatsApp.MinMessageDelay,
		MaxDelay:     cfg.WhatsApp.MaxMessageDelay,
		DefaultLimit: cfg.WhatsApp.CampaignLimit,
		Events:       hub,
		Logger:       log,
	})

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, log)
		if err != nil {
			log.Warn("telegram notifications disabled", "error", err)
		} else {
			notifier = tg
		}
	}

	jobManager := jobs.NewManager(ctx, scr, campaign, jobs.Options{
		ScheduleInterval: cfg.Scraper.ScheduleInterval,
		Notifier:         notifier,
		Logger:           log,
	})
	jobManager.StartScheduler()

	handlers := api.NewHandlers(api.Deps{
		Jobs:      jobManager,
		Customers: store.Customers,
		Results:   results,
		Proxies:   proxyLister,
		Outbox:    store.Outbox,
		Events:    hub,
		WhatsApp:  wa,
		Templates: templates,
		Logger:    log,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     api.NewRouter(handlers, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins}),
		ReadTimeout: cfg.Server.ReadTimeout,
		// zero by default so /api/events streams stay open
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"addr", server.Addr,
			"mode", cfg.Scraper.Mode,
			"driver", store.Driver,
			"proxies", len(cfg.Proxy.Proxies))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	jobManager.Wait()
	return nil
}
