package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/revolico-scraper/internal/app"
	"github.com/maltedev/revolico-scraper/internal/config"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/pkg/logger"
)

func main() {
	var (
		maxListings = flag.Int("max-listings", 0, "Number of listings to visit (default from SCRAPER_MAX_LISTINGS)")
		mode        = flag.String("mode", "", "Fetch mode: http or browser (default from SCRAPER_MODE)")
		output      = flag.String("output", "", "JSON result file (default from SCRAPER_OUTPUT_FILE)")
		persist     = flag.Bool("persist", true, "Store new customers in the database")
		urls        = flag.String("urls", "", "Comma-separated listing URLs to scrape instead of the homepage")
		format      = flag.String("format", "text", "Summary format: text or json")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Scraper.Mode = *mode
	}
	if *output != "" {
		cfg.Scraper.OutputFile = *output
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := run(ctx, cfg, log, *maxListings, *persist, splitURLs(*urls))
	if summary != nil {
		if perr := printSummary(os.Stdout, summary, *format); perr != nil {
			log.Error("failed to print summary", "error", perr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scrape failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, maxListings int, persist bool, links []string) (*models.RunSummary, error) {
	client, cleanup, err := app.NewFetchClient(cfg, nil, log)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	results, err := app.OpenResults(cfg.Scraper.OutputFile)
	if err != nil {
		return nil, err
	}

	deps := app.ScraperDeps{
		Client:  client,
		Results: results,
		Logger:  log,
	}
	if persist {
		store, err := app.OpenStore(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		deps.Customers = store.Customers
	}

	s, err := app.NewScraper(cfg.Scraper, maxListings, deps)
	if err != nil {
		return nil, err
	}

	if len(links) > 0 {
		return s.ScrapeListings(ctx, links)
	}
	return s.Run(ctx)
}

func splitURLs(raw string) []string {
	var out []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func printSummary(w io.Writer, s *models.RunSummary, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "Run %s: %s in %s\n", s.ID, s.Status, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Listings: %d found, %d processed, %d failed\n", s.ListingsFound, s.ListingsProcessed, s.ListingsFailed)
	fmt.Fprintf(w, "Phones: %d found, %d new customers\n", s.PhonesFound, s.NewCustomers)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  [%s] %s: %s\n", e.Kind, e.URL, e.Message)
	}
	return nil
}
