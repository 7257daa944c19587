package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/maltedev/revolico-scraper/internal/browser"
	"github.com/maltedev/revolico-scraper/internal/bypass"
	"github.com/maltedev/revolico-scraper/internal/config"
	"github.com/maltedev/revolico-scraper/internal/fetcher"
	"github.com/maltedev/revolico-scraper/internal/parser"
	"github.com/maltedev/revolico-scraper/pkg/logger"
)

// inspect fetches one page without retries and reports what the detector
// and the parsers make of it.
func main() {
	var (
		url   = flag.String("url", "", "Page to inspect (default: the configured base URL)")
		mode  = flag.String("mode", "http", "Fetch mode: http or browser")
		html  = flag.String("html", "", "Write the fetched HTML to this file")
		proxy = flag.String("proxy", "", "Proxy URL for http mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, "text")

	target := *url
	if target == "" {
		target = cfg.Scraper.BaseURL
	}

	var f fetcher.Fetcher
	switch *mode {
	case config.ModeBrowser:
		opts := browser.DefaultOptions()
		opts.Headless = cfg.Browser.Headless
		b, err := browser.New(opts)
		if err != nil {
			log.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		f = fetcher.NewRenderedFetcher(b)
	default:
		f = fetcher.NewCollyFetcher(cfg.Scraper.RequestTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	headers := fetcher.NewHeaderRotator(cfg.Scraper.UserAgents, nil)
	start := time.Now()
	resp, err := f.Fetch(ctx, &fetcher.Request{URL: target, Headers: headers.Headers(), Proxy: *proxy})
	if err != nil {
		log.Error("fetch failed", "url", target, "error", err)
		os.Exit(1)
	}
	body := resp.Text()
	fmt.Printf("URL:      %s\nStatus:   %d\nBytes:    %d\nDuration: %s\n", target, resp.StatusCode, len(body), time.Since(start).Round(time.Millisecond))

	if *html != "" {
		if err := os.WriteFile(*html, resp.Body, 0o644); err != nil {
			log.Error("failed to save HTML", "error", err)
		} else {
			log.Info("HTML saved", "file", *html)
		}
	}

	verdict := bypass.NewDetector().Inspect(resp.StatusCode, resp.Header, body)
	fmt.Printf("Verdict:  %s", verdict.Outcome)
	if verdict.Reason != "" {
		fmt.Printf(" (%s)", verdict.Reason)
	}
	fmt.Println()
	if len(verdict.Protections) > 0 {
		fmt.Printf("Protections: %s\n", strings.Join(verdict.Protections, ", "))
	}

	listings, err := parser.NewListingParser(cfg.Scraper.BaseURL, parser.NewPhoneParser())
	if err != nil {
		log.Error("invalid base URL", "error", err)
		os.Exit(1)
	}

	if strings.Contains(target, "/item/") {
		listing, err := listings.ParseListing(target, body)
		if err != nil {
			log.Error("failed to parse listing", "error", err)
			os.Exit(1)
		}
		fmt.Printf("\nTitle:    %s\nCategory: %s\nSeller:   %s\nPrice:    %.2f %s\nPhones:   %s\n",
			listing.Title, listing.Category, listing.Seller,
			listing.Price.Amount, listing.Price.Currency,
			strings.Join(listing.PhoneNumbers(), ", "))
		return
	}

	links, err := listings.ExtractListingLinks(body, 0)
	if err != nil {
		log.Error("failed to extract links", "error", err)
		os.Exit(1)
	}
	fmt.Printf("\nListing links: %d\n", len(links))
	for i, l := range links {
		if i >= 10 {
			fmt.Printf("  ... %d more\n", len(links)-i)
			break
		}
		fmt.Printf("  %s\n", l)
	}
}
