package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/metrics"
	"github.com/maltedev/revolico-scraper/internal/models"
)

// AccountStore is implemented by both database drivers.
type AccountStore interface {
	Create(ctx context.Context, a *models.WhatsAppAccount) error
	Get(ctx context.Context, id int64) (*models.WhatsAppAccount, error)
	List(ctx context.Context) ([]models.WhatsAppAccount, error)
	Update(ctx context.Context, a *models.WhatsAppAccount) error
	Delete(ctx context.Context, id int64) error
}

type SessionFactory func(a *models.WhatsAppAccount) (Session, error)

type ManagerOptions struct {
	DailyLimit int
	Events     events.Publisher
	Logger     *slog.Logger
	Now        func() time.Time
}

// AccountStatus is an account with the live state of its session.
type AccountStatus struct {
	Account   *models.WhatsAppAccount `json:"account"`
	State     LoginState              `json:"state"`
	Remaining int                     `json:"remaining_today"`
}

// Manager owns the accounts and one session per account.
type Manager struct {
	accounts   AccountStore
	newSession SessionFactory
	dailyLimit int
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[int64]Session
}

func NewManager(accounts AccountStore, factory SessionFactory, opts ManagerOptions) *Manager {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = models.DefaultDailyMessageLimit
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		accounts:   accounts,
		newSession: factory,
		dailyLimit: opts.DailyLimit,
		events:     opts.Events,
		logger:     opts.Logger.With("component", "whatsapp"),
		now:        opts.Now,
		sessions:   make(map[int64]Session),
	}
}

func (m *Manager) CreateAccount(ctx context.Context, name string, dailyLimit int, notes string) (*models.WhatsAppAccount, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAccount)
	}
	if dailyLimit <= 0 {
		dailyLimit = m.dailyLimit
	}

	now := m.now()
	a := &models.WhatsAppAccount{
		Name:          name,
		SessionName:   models.SessionNameFor(name, now),
		DailyLimit:    dailyLimit,
		LastResetDate: now,
		Active:        true,
		Notes:         notes,
	}
	if err := m.accounts.Create(ctx, a); err != nil {
		return nil, err
	}

	m.logger.Info("account created", "account_id", a.ID, "name", a.Name, "daily_limit", a.DailyLimit)
	return a, nil
}

func (m *Manager) ListAccounts(ctx context.Context) ([]models.WhatsAppAccount, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for i := range accounts {
		accounts[i].ResetIfNewDay(now)
	}
	return accounts, nil
}

func (m *Manager) DeleteAccount(ctx context.Context, id int64) error {
	m.closeSession(id)
	if err := m.accounts.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("account deleted", "account_id", id)
	return nil
}

// Setup opens the account's session. A StateWaiting result means the QR
// code must be scanned.
func (m *Manager) Setup(ctx context.Context, id int64) (LoginState, error) {
	a, err := m.accounts.Get(ctx, id)
	if err != nil {
		return StateClosed, err
	}

	session, err := m.session(a)
	if err != nil {
		return StateClosed, err
	}

	m.publish(events.TypeWhatsAppLog, events.LevelInfo, fmt.Sprintf("Starting WhatsApp session for %s", a.Name), a.ID)
	state, err := session.Open(ctx)
	if err != nil {
		m.closeSession(id)
		m.publish(events.TypeWhatsAppLog, events.LevelError, fmt.Sprintf("WhatsApp setup failed: %v", err), a.ID)
		return StateClosed, fmt.Errorf("failed to open session: %w", err)
	}

	switch state {
	case StateLoggedIn:
		m.publish(events.TypeWhatsAppReady, events.LevelSuccess, fmt.Sprintf("%s is ready for campaigns", a.Name), a.ID)
	case StateWaiting:
		m.publish(events.TypeWhatsAppQRReady, events.LevelInfo, "Scan the QR code to log in", a.ID)
	}

	return state, m.syncLogin(ctx, a, state)
}

// Status refreshes the login flag from the live session.
func (m *Manager) Status(ctx context.Context, id int64) (*AccountStatus, error) {
	a, err := m.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	state := StateClosed
	if session := m.existing(id); session != nil {
		if state, err = session.State(ctx); err != nil {
			return nil, fmt.Errorf("failed to read session state: %w", err)
		}
	}

	if state == StateLoggedIn && !a.LoggedIn {
		m.publish(events.TypeWhatsAppReady, events.LevelSuccess, fmt.Sprintf("%s logged in", a.Name), a.ID)
	}
	if state != StateClosed {
		if err := m.syncLogin(ctx, a, state); err != nil {
			return nil, err
		}
	}

	return &AccountStatus{Account: a, State: state, Remaining: a.Remaining(m.now())}, nil
}

func (m *Manager) QRCode(ctx context.Context, id int64) ([]byte, error) {
	session := m.existing(id)
	if session == nil {
		return nil, ErrNoSession
	}
	return session.QRCode(ctx)
}

// Available returns the requested account, or the first active logged-in
// account with quota left when id is zero.
func (m *Manager) Available(ctx context.Context, id int64) (*models.WhatsAppAccount, error) {
	now := m.now()
	if id > 0 {
		a, err := m.accounts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := m.ready(ctx, a, now); err != nil {
			return nil, err
		}
		return a, nil
	}

	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if m.ready(ctx, &accounts[i], now) == nil {
			return &accounts[i], nil
		}
	}
	return nil, ErrNoAccount
}

func (m *Manager) ready(ctx context.Context, a *models.WhatsAppAccount, now time.Time) error {
	if !a.Active {
		return ErrAccountInactive
	}
	if !a.CanSend(now) {
		return ErrDailyLimit
	}
	session := m.existing(a.ID)
	if session == nil {
		return ErrNoSession
	}
	state, err := session.State(ctx)
	if err != nil {
		return err
	}
	if state != StateLoggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

// Send delivers one message through the account's session and updates its
// counters. Quota is checked before sending.
func (m *Manager) Send(ctx context.Context, id int64, phone, message string) error {
	a, err := m.accounts.Get(ctx, id)
	if err != nil {
		return err
	}
	now := m.now()
	if !a.Active {
		return ErrAccountInactive
	}
	if !a.CanSend(now) {
		return fmt.Errorf("%w (%d/%d)", ErrDailyLimit, a.SentToday, a.DailyLimit)
	}

	session := m.existing(id)
	if session == nil {
		return ErrNoSession
	}

	sendErr := session.Send(ctx, phone, message)
	switch {
	case sendErr == nil:
		a.RecordSent(now)
		metrics.RecordMessage("sent")
	case errors.Is(sendErr, context.Canceled), errors.Is(sendErr, context.DeadlineExceeded):
		return sendErr
	default:
		a.RecordFailed(now)
		metrics.RecordMessage("failed")
		if errors.Is(sendErr, ErrNotLoggedIn) {
			a.LoggedIn = false
		}
	}

	if err := m.accounts.Update(ctx, a); err != nil {
		m.logger.Error("failed to update account counters", "account_id", id, "error", err)
	}
	return sendErr
}

// Close shuts every open session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[int64]Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close session", "account_id", id, "error", err)
		}
	}
}

func (m *Manager) session(a *models.WhatsAppAccount) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[a.ID]; ok {
		return s, nil
	}
	s, err := m.newSession(a)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.sessions[a.ID] = s
	return s, nil
}

func (m *Manager) existing(id int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) closeSession(id int64) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close session", "account_id", id, "error", err)
		}
	}
}

func (m *Manager) syncLogin(ctx context.Context, a *models.WhatsAppAccount, state LoginState) error {
	loggedIn := state == StateLoggedIn
	if a.LoggedIn == loggedIn {
		return nil
	}
	a.LoggedIn = loggedIn
	if err := m.accounts.Update(ctx, a); err != nil {
		return fmt.Errorf("failed to update login state: %w", err)
	}
	return nil
}

func (m *Manager) publish(t events.Type, level events.Level, message string, accountID int64) {
	m.events.Publish(events.Event{
		Type:    t,
		Level:   level,
		Message: message,
		Data:    map[string]interface{}{"account_id": accountID},
	})
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}
