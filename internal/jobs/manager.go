package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/internal/notify"
	"github.com/maltedev/revolico-scraper/internal/whatsapp"
)

var (
	ErrAlreadyRunning       = errors.New("task already running")
	ErrNotRunning           = errors.New("task not running")
	ErrCampaignsUnavailable = errors.New("whatsapp campaigns not configured")
)

type Scraper interface {
	Run(ctx context.Context) (*models.RunSummary, error)
}

type Campaigner interface {
	Run(ctx context.Context, opts whatsapp.CampaignOptions) (*models.CampaignSummary, error)
}

type Options struct {
	// ScheduleInterval starts a scrape run this often when idle; zero
	// disables the scheduler.
	ScheduleInterval time.Duration
	Notifier         notify.Notifier
	Logger           *slog.Logger
}

// Status is a snapshot of the background tasks.
type Status struct {
	Scraping         bool                    `json:"scraping"`
	ScrapeStartedAt  *time.Time              `json:"scrape_started_at,omitempty"`
	CampaignRunning  bool                    `json:"campaign_running"`
	LastRun          *models.RunSummary      `json:"last_run,omitempty"`
	LastCampaign     *models.CampaignSummary `json:"last_campaign,omitempty"`
	LastCampaignErr  string                  `json:"last_campaign_error,omitempty"`
	NextScheduledRun *time.Time              `json:"next_scheduled_run,omitempty"`
}

// Manager runs at most one scrape and one campaign at a time on goroutines
// owned by the server-lifetime context.
type Manager struct {
	base     context.Context
	scraper  Scraper
	campaign Campaigner
	opts     Options
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu              sync.Mutex
	scrapeCancel    context.CancelFunc
	scrapeStarted   time.Time
	campaignCancel  context.CancelFunc
	lastRun         *models.RunSummary
	lastCampaign    *models.CampaignSummary
	lastCampaignErr error
	nextRun         *time.Time
}

// NewManager binds tasks to ctx; cancelling it stops every task. campaign may
// be nil.
func NewManager(ctx context.Context, scraper Scraper, campaign Campaigner, opts Options) *Manager {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		base:     ctx,
		scraper:  scraper,
		campaign: campaign,
		opts:     opts,
		logger:   opts.Logger.With("component", "job_manager"),
	}
}

func (m *Manager) StartScrape() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scrapeCancel != nil {
		return ErrAlreadyRunning
	}
	if err := m.base.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(m.base)
	m.scrapeCancel = cancel
	m.scrapeStarted = time.Now()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runScrape(ctx)
	}()

	m.logger.Info("scrape run started")
	return nil
}

func (m *Manager) runScrape(ctx context.Context) {
	summary, err := m.scraper.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("scrape run failed", "error", err)
	}

	m.mu.Lock()
	if summary != nil {
		m.lastRun = summary
	}
	m.scrapeCancel = nil
	m.mu.Unlock()

	if summary != nil {
		m.notify(fmt.Sprintf("Revolico scrape %s: %d/%d listings, %d phones, %d new customers, %d errors (%s)",
			summary.Status, summary.ListingsProcessed, summary.ListingsFound,
			summary.PhonesFound, summary.NewCustomers, len(summary.Errors),
			summary.Duration().Round(time.Second)))
	}
}

func (m *Manager) StopScrape() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scrapeCancel == nil {
		return ErrNotRunning
	}
	m.scrapeCancel()
	m.logger.Info("scrape run stop requested")
	return nil
}

func (m *Manager) StartCampaign(opts whatsapp.CampaignOptions) error {
	if m.campaign == nil {
		return ErrCampaignsUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.campaignCancel != nil {
		return ErrAlreadyRunning
	}
	if err := m.base.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(m.base)
	m.campaignCancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runCampaign(ctx, opts)
	}()

	m.logger.Info("campaign started", "account_id", opts.AccountID, "template", opts.Template, "limit", opts.Limit)
	return nil
}

func (m *Manager) runCampaign(ctx context.Context, opts whatsapp.CampaignOptions) {
	summary, err := m.campaign.Run(ctx, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("campaign failed", "error", err)
	}

	m.mu.Lock()
	if summary != nil {
		m.lastCampaign = summary
	}
	m.lastCampaignErr = err
	m.campaignCancel = nil
	m.mu.Unlock()

	if summary != nil {
		m.notify(fmt.Sprintf("WhatsApp campaign %s via %s: %d sent, %d failed, %d skipped",
			summary.Status, summary.Account, summary.Sent, summary.Failed, summary.Skipped))
	} else if err != nil && !errors.Is(err, context.Canceled) {
		m.notify("WhatsApp campaign could not start: " + err.Error())
	}
}

func (m *Manager) StopCampaign() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.campaignCancel == nil {
		return ErrNotRunning
	}
	m.campaignCancel()
	m.logger.Info("campaign stop requested")
	return nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Scraping:         m.scrapeCancel != nil,
		CampaignRunning:  m.campaignCancel != nil,
		LastRun:          m.lastRun,
		LastCampaign:     m.lastCampaign,
		NextScheduledRun: m.nextRun,
	}
	if s.Scraping {
		started := m.scrapeStarted
		s.ScrapeStartedAt = &started
	}
	if m.lastCampaignErr != nil {
		s.LastCampaignErr = m.lastCampaignErr.Error()
	}
	return s
}

// StartScheduler starts a scrape every ScheduleInterval unless one is
// already running. It returns immediately.
func (m *Manager) StartScheduler() {
	interval := m.opts.ScheduleInterval
	if interval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.setNextRun(time.Now().Add(interval))

		m.logger.Info("scheduler started", "interval", interval)
		for {
			select {
			case <-m.base.Done():
				m.logger.Info("scheduler stopped")
				return
			case now := <-ticker.C:
				m.setNextRun(now.Add(interval))
				if err := m.StartScrape(); err != nil {
					m.logger.Debug("scheduled run skipped", "reason", err)
				}
			}
		}
	}()
}

func (m *Manager) setNextRun(t time.Time) {
	m.mu.Lock()
	m.nextRun = &t
	m.mu.Unlock()
}

// Wait blocks until every task goroutine has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) notify(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.opts.Notifier.Notify(ctx, text); err != nil {
		m.logger.Warn("notification failed", "error", err)
	}
}
