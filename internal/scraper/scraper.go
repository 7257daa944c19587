package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/fetcher"
	"github.com/maltedev/revolico-scraper/internal/metrics"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/internal/parser"
)

var (
	ErrNoPhoneFound        = errors.New("no phone number found")
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrHomepageUnavailable = errors.New("homepage unavailable on every base URL")
	ErrNoBaseURL           = errors.New("no base URL configured")
)

// PageGetter fetches a page with retries and bypass handling.
type PageGetter interface {
	Get(ctx context.Context, url string) (*fetcher.Response, error)
}

type ListingParser interface {
	ExtractListingLinks(page string, limit int) ([]string, error)
	ParseListing(pageURL, page string) (*models.Listing, error)
}

// Delayer blocks for the randomized pause before each listing.
type Delayer interface {
	Wait(ctx context.Context) error
}

type CustomerSaver interface {
	Save(ctx context.Context, c *models.Customer) (bool, error)
}

type ResultWriter interface {
	Add(results ...models.Result) (int, error)
}

type Options struct {
	// BaseURLs are tried in order until one serves a homepage.
	BaseURLs    []string
	MaxListings int
}

// Deps are the collaborators of a Scraper. Customers, Results and Events are
// optional.
type Deps struct {
	Client    PageGetter
	Parser    ListingParser
	Delay     Delayer
	Customers CustomerSaver
	Results   ResultWriter
	Events    events.Publisher
	Logger    *slog.Logger
}

// Scraper visits the homepage, follows listing links and stores every phone
// number it finds. A failing listing never aborts the run.
type Scraper struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
}

func New(opts Options, deps Deps) (*Scraper, error) {
	if deps.Client == nil || deps.Parser == nil {
		return nil, errors.New("scraper needs a client and a parser")
	}
	if len(opts.BaseURLs) == 0 {
		return nil, ErrNoBaseURL
	}
	if opts.MaxListings <= 0 {
		opts.MaxListings = 3
	}
	if deps.Delay == nil {
		deps.Delay = noDelay{}
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Scraper{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With("component", "scraper"),
	}, nil
}

// Run performs one full scrape. The summary is always returned; the error is
// set when no homepage could be read or ctx was cancelled.
func (s *Scraper) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := newSummary()
	s.logger.Info("starting scrape run", "run_id", summary.ID, "max_listings", s.opts.MaxListings)
	s.publish(events.TypeScrapingStarted, events.LevelInfo, "Scraping started", map[string]interface{}{
		"run_id":       summary.ID,
		"max_listings": s.opts.MaxListings,
	})

	links, err := s.discover(ctx, summary)
	if err != nil {
		return s.finish(ctx, summary, err)
	}
	summary.ListingsFound = len(links)

	s.scrapeListings(ctx, summary, links)
	return s.finish(ctx, summary, ctx.Err())
}

// ScrapeListings runs the per-listing loop over a fixed link set.
func (s *Scraper) ScrapeListings(ctx context.Context, links []string) (*models.RunSummary, error) {
	summary := newSummary()
	summary.ListingsFound = len(links)

	s.scrapeListings(ctx, summary, links)
	return s.finish(ctx, summary, ctx.Err())
}

func newSummary() *models.RunSummary {
	return &models.RunSummary{
		ID:        uuid.NewString(),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
		Errors:    []models.RunError{},
	}
}

// discover returns the listing links of the first base URL whose homepage
// could be fetched and has listings.
func (s *Scraper) discover(ctx context.Context, summary *models.RunSummary) ([]string, error) {
	fetched := false
	for _, base := range s.opts.BaseURLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := s.deps.Client.Get(ctx, base)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("homepage fetch failed", "url", base, "error", err)
			summary.AddError(base, errorKind(err), err)
			continue
		}
		fetched = true

		links, err := s.deps.Parser.ExtractListingLinks(resp.Text(), s.opts.MaxListings)
		if err != nil {
			s.logger.Warn("failed to extract listing links", "url", base, "error", err)
			summary.AddError(base, models.ErrorKindParse, err)
			continue
		}
		if len(links) == 0 {
			s.logger.Warn("no listings found on homepage", "url", base)
			continue
		}

		s.logger.Info("found listings", "url", base, "count", len(links))
		return links, nil
	}

	if fetched {
		return nil, nil
	}
	return nil, ErrHomepageUnavailable
}

func (s *Scraper) scrapeListings(ctx context.Context, summary *models.RunSummary, links []string) {
	for i, link := range links {
		if err := s.deps.Delay.Wait(ctx); err != nil {
			return
		}

		s.logger.Info("processing listing", "index", i+1, "total", len(links), "url", link)
		s.processListing(ctx, summary, link)
		if ctx.Err() != nil {
			return
		}

		s.publish(events.TypeScrapingProgress, events.LevelInfo,
			fmt.Sprintf("Processed %d/%d listings", i+1, len(links)),
			map[string]interface{}{
				"processed":     i + 1,
				"total":         len(links),
				"phones_found":  summary.PhonesFound,
				"new_customers": summary.NewCustomers,
			})
	}
}

func (s *Scraper) processListing(ctx context.Context, summary *models.RunSummary, link string) {
	resp, err := s.deps.Client.Get(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(summary, link, errorKind(err), err)
		metrics.RecordListing("fetch_error")
		return
	}

	listing, err := s.deps.Parser.ParseListing(link, resp.Text())
	if err != nil {
		s.fail(summary, link, models.ErrorKindParse, err)
		metrics.RecordListing("parse_error")
		return
	}
	summary.ListingsProcessed++

	var valid []models.PhoneNumber
	for _, p := range listing.Phones {
		if !parser.IsCanonical(p.Number) {
			summary.AddError(link, models.ErrorKindValidation, fmt.Errorf("%w: %q", ErrInvalidPhone, p.Number))
			continue
		}
		valid = append(valid, p)
	}
	listing.Phones = valid

	if len(listing.Phones) == 0 {
		s.logger.Info("no phone number on listing", "url", link)
		summary.AddError(link, models.ErrorKindParse, ErrNoPhoneFound)
		metrics.RecordListing("no_phone")
		return
	}

	summary.PhonesFound += len(listing.Phones)
	metrics.AddPhonesFound(len(listing.Phones))
	metrics.RecordListing("ok")
	s.logger.Info("phones extracted", "url", link, "phones", listing.PhoneNumbers())

	if s.deps.Results != nil {
		if _, err := s.deps.Results.Add(listing.Results()...); err != nil {
			s.logger.Error("failed to write results", "url", link, "error", err)
			summary.AddError(link, models.ErrorKindStorage, err)
		}
	}

	if s.deps.Customers == nil {
		return
	}
	for _, phone := range listing.PhoneNumbers() {
		customer := models.NewCustomer(phone, listing)
		created, err := s.deps.Customers.Save(ctx, customer)
		if err != nil {
			s.logger.Error("failed to save customer", "phone", phone, "error", err)
			summary.AddError(link, models.ErrorKindStorage, err)
			continue
		}
		if !created {
			continue
		}
		summary.NewCustomers++
		metrics.RecordCustomerCreated()
		s.publish(events.TypeCustomerDiscovered, events.LevelSuccess, "New customer "+phone, map[string]interface{}{
			"customer_id": customer.ID,
			"phone":       phone,
			"title":       listing.Title,
			"url":         link,
		})
	}
}

func (s *Scraper) fail(summary *models.RunSummary, link, kind string, err error) {
	s.logger.Warn("listing failed", "url", link, "kind", kind, "error", err)
	summary.ListingsFailed++
	summary.AddError(link, kind, err)
	s.publish(events.TypeLog, events.LevelWarning, fmt.Sprintf("Listing failed (%s): %s", kind, link), nil)
}

func (s *Scraper) finish(ctx context.Context, summary *models.RunSummary, err error) (*models.RunSummary, error) {
	switch {
	case ctx.Err() != nil:
		summary.Finish(models.RunStatusStopped)
		err = ctx.Err()
		s.publish(events.TypeScrapingStopped, events.LevelWarning, "Scraping stopped", map[string]interface{}{
			"run_id": summary.ID,
		})
	case err != nil:
		summary.Finish(models.RunStatusFailed)
		s.publish(events.TypeScrapingCompleted, events.LevelError, "Scraping failed: "+err.Error(), map[string]interface{}{
			"run_id": summary.ID,
		})
	default:
		summary.Finish(models.RunStatusCompleted)
		s.publish(events.TypeScrapingCompleted, events.LevelSuccess,
			fmt.Sprintf("Scraping completed: %d phones, %d new customers", summary.PhonesFound, summary.NewCustomers),
			map[string]interface{}{
				"run_id":        summary.ID,
				"phones_found":  summary.PhonesFound,
				"new_customers": summary.NewCustomers,
				"errors":        len(summary.Errors),
			})
	}
	metrics.RecordRun(summary.Status)

	s.logger.Info("scrape run finished",
		"run_id", summary.ID,
		"status", summary.Status,
		"listings_found", summary.ListingsFound,
		"listings_processed", summary.ListingsProcessed,
		"listings_failed", summary.ListingsFailed,
		"phones_found", summary.PhonesFound,
		"new_customers", summary.NewCustomers,
		"duration", summary.Duration())

	return summary, err
}

func (s *Scraper) publish(t events.Type, level events.Level, message string, data map[string]interface{}) {
	s.deps.Events.Publish(events.Event{Type: t, Level: level, Message: message, Data: data})
}

// errorKind maps a fetch error to the run log kind.
func errorKind(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrChallenge),
		errors.Is(err, fetcher.ErrRateLimited),
		errors.Is(err, fetcher.ErrBlocked):
		return models.ErrorKindChallenge
	case errors.Is(err, fetcher.ErrNetwork), errors.Is(err, fetcher.ErrHTTPStatus):
		return models.ErrorKindNetwork
	}
	return models.ErrorKindUnknown
}

type noDelay struct{}

func (noDelay) Wait(ctx context.Context) error { return ctx.Err() }

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}
