// Package app wires configuration into the scraping pipeline and its
// storage. Both binaries build their components through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/maltedev/revolico-scraper/internal/browser"
	"github.com/maltedev/revolico-scraper/internal/bypass"
	"github.com/maltedev/revolico-scraper/internal/config"
	"github.com/maltedev/revolico-scraper/internal/database"
	"github.com/maltedev/revolico-scraper/internal/database/sqlite"
	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/fetcher"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/internal/parser"
	"github.com/maltedev/revolico-scraper/internal/ratelimit"
	"github.com/maltedev/revolico-scraper/internal/retry"
	"github.com/maltedev/revolico-scraper/internal/scraper"
	"github.com/maltedev/revolico-scraper/internal/storage"
	"github.com/maltedev/revolico-scraper/internal/whatsapp"
)

// CustomerRepo is implemented by both database drivers.
type CustomerRepo interface {
	Save(ctx context.Context, c *models.Customer) (bool, error)
	Get(ctx context.Context, id int64) (*models.Customer, error)
	GetByPhone(ctx context.Context, phone string) (*models.Customer, error)
	List(ctx context.Context, f models.CustomerFilter) ([]models.Customer, int, error)
	Stats(ctx context.Context) (models.CustomerStats, error)
	UpdateContact(ctx context.Context, id int64, u models.ContactUpdate) error
	ListUncontacted(ctx context.Context, limit int) ([]models.Customer, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// Store holds the repositories of the configured driver.
type Store struct {
	Driver    string
	Customers CustomerRepo
	Accounts  whatsapp.AccountStore
	Outbox    database.OutboxRepo
	close     func()
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore connects to PostgreSQL or opens the SQLite file and runs the
// migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := database.New(ctx, database.Config{
			DSN:      cfg.DSN(),
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("database ready", "driver", cfg.Driver, "host", cfg.Host, "name", cfg.DBName)
		return &Store{
			Driver:    cfg.Driver,
			Customers: database.NewCustomerRepository(db),
			Accounts:  database.NewAccountRepository(db),
			Outbox:    database.NewOutboxRepository(db),
			close:     db.Close,
		}, nil

	case config.DriverSQLite, "":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("database ready", "driver", config.DriverSQLite, "path", cfg.SQLitePath)
		return &Store{
			Driver:    config.DriverSQLite,
			Customers: sqlite.NewCustomerRepository(db),
			Accounts:  sqlite.NewAccountRepository(db),
			Outbox:    sqlite.NewOutboxRepository(db),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error("failed to close database", "error", err)
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// NewFetchClient builds the page client for the configured mode. The
// returned cleanup releases the browser in browser mode.
func NewFetchClient(cfg config.Config, proxies fetcher.ProxyPool, logger *slog.Logger) (*fetcher.Client, func(), error) {
	sc := cfg.Scraper
	cleanup := func() {}

	var f fetcher.Fetcher
	switch sc.Mode {
	case config.ModeBrowser:
		opts := browser.DefaultOptions()
		opts.Headless = cfg.Browser.Headless
		opts.Timeout = cfg.Browser.Timeout
		opts.ViewportWidth = cfg.Browser.ViewportWidth
		opts.ViewportHeight = cfg.Browser.ViewportHeight
		opts.AcceptLanguage = cfg.Browser.AcceptLanguage
		opts.TimezoneID = cfg.Browser.TimezoneID
		opts.Locale = cfg.Browser.Locale
		opts.ProxyServer = cfg.Browser.ProxyServer
		if len(sc.UserAgents) > 0 {
			opts.UserAgent = sc.UserAgents[0]
		}

		b, err := browser.New(opts)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to initialize browser: %w", err)
		}
		cleanup = func() {
			if err := b.Close(); err != nil {
				logger.Error("failed to close browser", "error", err)
			}
		}
		f = fetcher.NewRenderedFetcher(b)
		// the browser keeps its own proxy
		proxies = nil
	default:
		f = fetcher.NewCollyFetcher(sc.RequestTimeout)
	}

	client := fetcher.NewClient(f, fetcher.ClientOptions{
		Detector:  bypass.NewDetector(),
		Headers:   fetcher.NewHeaderRotator(sc.UserAgents, rand.New(rand.NewSource(time.Now().UnixNano()))),
		Proxies:   proxies,
		Limiter:   ratelimit.NewAdaptiveRateLimiter(sc.MinDelay, sc.MaxDelay),
		PerMinute: ratelimit.NewMinuteLimiter(sc.RequestsPerMinute),
		Policy:    RetryPolicy(sc, logger),
		Logger:    logger,
	})
	return client, cleanup, nil
}

// RetryPolicy is the single retry rule for page fetches.
func RetryPolicy(sc config.ScraperConfig, logger *slog.Logger) retry.Policy {
	return retry.Policy{
		MaxAttempts: sc.Attempts(),
		Backoff:     retry.WithJitter(retry.Exponential(sc.RetryDelay, sc.BackoffFactor, sc.MaxBackoff), 0.2),
		Retryable:   fetcher.IsRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("retrying fetch", "attempt", attempt, "wait", wait, "error", err)
		},
	}
}

type ScraperDeps struct {
	Client    scraper.PageGetter
	Customers scraper.CustomerSaver
	Results   scraper.ResultWriter
	Events    events.Publisher
	Logger    *slog.Logger
}

// NewScraper builds the orchestrator for the configured base URLs. Spacing
// between listings comes from the client's rate limiter.
func NewScraper(sc config.ScraperConfig, maxListings int, deps ScraperDeps) (*scraper.Scraper, error) {
	listings, err := parser.NewListingParser(sc.BaseURL, parser.NewPhoneParser())
	if err != nil {
		return nil, err
	}
	if maxListings <= 0 {
		maxListings = sc.MaxListings
	}

	return scraper.New(scraper.Options{
		BaseURLs:    sc.BaseURLs(),
		MaxListings: maxListings,
	}, scraper.Deps{
		Client:    deps.Client,
		Parser:    listings,
		Customers: deps.Customers,
		Results:   deps.Results,
		Events:    deps.Events,
		Logger:    deps.Logger,
	})
}

func OpenResults(path string) (*storage.ResultStore, error) {
	if path == "" {
		path = "revolico_data.json"
	}
	results, err := storage.NewResultStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result file: %w", err)
	}
	return results, nil
}
