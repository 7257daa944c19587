package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/internal/ratelimit"
)

const (
	DefaultCampaignLimit = 10
	CampaignCompleted    = "completed"
	CampaignStopped      = "stopped"
	CampaignFailed       = "failed"
)

type CustomerStore interface {
	ListUncontacted(ctx context.Context, limit int) ([]models.Customer, error)
	UpdateContact(ctx context.Context, id int64, u models.ContactUpdate) error
}

// Pauser waits between two messages. The first Wait returns immediately.
type Pauser interface {
	Wait(ctx context.Context) error
}

type CampaignOptions struct {
	// AccountID selects the sending account; zero picks the first usable one.
	AccountID int64  `json:"account_id"`
	Template  string `json:"template"`
	Message   string `json:"message"`
	Limit     int    `json:"limit"`
}

type CampaignConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// DefaultLimit applies when a run does not set one.
	DefaultLimit int
	Events       events.Publisher
	Logger       *slog.Logger
	// NewPauser overrides the random MinDelay..MaxDelay pause.
	NewPauser func() Pauser
}

// Campaign sends one templated message to each uncontacted customer.
type Campaign struct {
	manager      *Manager
	customers    CustomerStore
	templates    *Templates
	defaultLimit int
	newPauser    func() Pauser
	events       events.Publisher
	logger       *slog.Logger
}

func NewCampaign(manager *Manager, customers CustomerStore, templates *Templates, cfg CampaignConfig) *Campaign {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 60 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = 180 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultCampaignLimit
	}
	if cfg.NewPauser == nil {
		cfg.NewPauser = func() Pauser {
			return ratelimit.NewSimpleRateLimiter(cfg.MinDelay, cfg.MaxDelay)
		}
	}
	if cfg.Events == nil {
		cfg.Events = nopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Campaign{
		manager:      manager,
		customers:    customers,
		templates:    templates,
		defaultLimit: cfg.DefaultLimit,
		newPauser:    cfg.NewPauser,
		events:       cfg.Events,
		logger:       cfg.Logger.With("component", "campaign"),
	}
}

func (c *Campaign) Templates() *Templates {
	return c.templates
}

// Run sends messages until the customer list, the account quota or ctx runs
// out. Per-customer failures are recorded and do not stop the campaign.
func (c *Campaign) Run(ctx context.Context, opts CampaignOptions) (*models.CampaignSummary, error) {
	message, err := c.templates.Compile(opts.Template, opts.Message)
	if err != nil {
		return nil, err
	}

	account, err := c.manager.Available(ctx, opts.AccountID)
	if err != nil {
		return nil, fmt.Errorf("no account to send from: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = c.defaultLimit
	}
	if remaining := account.Remaining(c.manager.now()); remaining < limit {
		limit = remaining
	}

	targets, err := c.customers.ListUncontacted(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncontacted customers: %w", err)
	}

	template := opts.Template
	if opts.Message != "" {
		template = "custom"
	} else if template == "" {
		template = DefaultTemplate
	}
	summary := &models.CampaignSummary{
		AccountID: account.ID,
		Account:   account.Name,
		Template:  template,
		Status:    "running",
		Targeted:  len(targets),
		StartedAt: time.Now(),
	}

	c.logger.Info("campaign started", "account_id", account.ID, "targets", len(targets), "template", template)
	c.publish(events.TypeWhatsAppCampaignStarted, events.LevelInfo,
		fmt.Sprintf("Campaign started: %d customers via %s", len(targets), account.Name),
		map[string]interface{}{"account_id": account.ID, "targeted": len(targets)})

	pause := c.newPauser()
	status := CampaignCompleted

loop:
	for i, customer := range targets {
		if err := pause.Wait(ctx); err != nil {
			status = CampaignStopped
			break
		}

		text, err := message.Render(customer)
		if err != nil {
			c.record(ctx, summary, account.ID, customer, err)
			continue
		}

		sendErr := c.manager.Send(ctx, account.ID, customer.Phone, text)
		switch {
		case ctx.Err() != nil:
			status = CampaignStopped
			break loop
		case errors.Is(sendErr, ErrDailyLimit):
			c.logger.Warn("daily limit reached", "account_id", account.ID)
			c.publish(events.TypeWhatsAppLog, events.LevelWarning, "Daily limit reached, stopping campaign", nil)
			break loop
		case errors.Is(sendErr, ErrNotLoggedIn), errors.Is(sendErr, ErrNoSession):
			c.logger.Error("session lost", "account_id", account.ID, "error", sendErr)
			c.publish(events.TypeWhatsAppLog, events.LevelError, "WhatsApp session lost, please log in again", nil)
			status = CampaignFailed
			break loop
		}

		c.record(ctx, summary, account.ID, customer, sendErr)
		c.logger.Debug("campaign progress", "index", i+1, "total", len(targets))
	}

	summary.Skipped = summary.Targeted - summary.Sent - summary.Failed
	summary.Status = status
	finished := time.Now()
	summary.FinishedAt = &finished

	c.logger.Info("campaign finished",
		"status", status,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	eventType := events.TypeWhatsAppCampaignCompleted
	if status == CampaignStopped {
		eventType = events.TypeWhatsAppStopped
	}
	c.publish(eventType, events.LevelSuccess,
		fmt.Sprintf("Campaign %s: %d sent, %d failed", status, summary.Sent, summary.Failed),
		map[string]interface{}{
			"account_id": account.ID,
			"sent":       summary.Sent,
			"failed":     summary.Failed,
			"skipped":    summary.Skipped,
		})

	if status == CampaignStopped {
		return summary, ctx.Err()
	}
	return summary, nil
}

// record stores the outcome of one message on the customer.
func (c *Campaign) record(ctx context.Context, summary *models.CampaignSummary, accountID int64, customer models.Customer, sendErr error) {
	update := models.ContactUpdate{
		Status:         models.ContactStatusContacted,
		WhatsAppStatus: "sent",
		AccountID:      &accountID,
		At:             time.Now(),
	}
	level, message := events.LevelSuccess, "Message sent to "+customer.Phone
	if sendErr != nil {
		update.Status = models.ContactStatusFailed
		update.WhatsAppStatus = "failed"
		update.Notes = sendErr.Error()
		level, message = events.LevelError, fmt.Sprintf("Message to %s failed: %v", customer.Phone, sendErr)
		summary.Failed++
	} else {
		summary.Sent++
	}

	if err := c.customers.UpdateContact(ctx, customer.ID, update); err != nil {
		c.logger.Error("failed to record contact", "customer_id", customer.ID, "error", err)
	}

	c.publish(events.TypeWhatsAppMessage, level, message, map[string]interface{}{
		"customer_id": customer.ID,
		"phone":       customer.Phone,
		"status":      update.WhatsAppStatus,
	})
}

func (c *Campaign) publish(t events.Type, level events.Level, message string, data map[string]interface{}) {
	c.events.Publish(events.Event{Type: t, Level: level, Message: message, Data: data})
}
