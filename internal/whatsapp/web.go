package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/playwright-community/playwright-go"
)

const webURL = "https://web.whatsapp.com"

var (
	qrSelectors = []string{
		`canvas[aria-label="Scan me!"]`,
		`div[data-ref] canvas`,
	}
	loggedInSelectors = []string{
		`[data-testid="chat-list"]`,
		`#side`,
	}
	composeSelectors = []string{
		`[data-testid="conversation-compose-box-input"]`,
		`div[contenteditable="true"][data-tab="10"]`,
		`div[role="textbox"][contenteditable="true"]`,
		`footer div[contenteditable="true"]`,
	}
	errorDialogSelector = `[data-animate-modal-popup="true"]`
)

type WebOptions struct {
	// ProfileDir holds one persistent browser profile per account session.
	ProfileDir  string
	Headless    bool
	Timeout     time.Duration
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// WebSession drives web.whatsapp.com in a persistent Chromium profile so a
// scanned QR code survives restarts.
type WebSession struct {
	mu      sync.Mutex
	name    string
	opts    WebOptions
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	logger  *slog.Logger
}

func NewWebSession(sessionName string, opts WebOptions) *WebSession {
	if opts.ProfileDir == "" {
		opts.ProfileDir = "whatsapp_profiles"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WebSession{
		name:   sessionName,
		opts:   opts,
		logger: opts.Logger.With("component", "whatsapp_web", "session", sessionName),
	}
}

// WebSessionFactory builds a WebSession for each account.
func WebSessionFactory(opts WebOptions) SessionFactory {
	return func(a *models.WhatsAppAccount) (Session, error) {
		return NewWebSession(a.SessionName, opts), nil
	}
}

func (s *WebSession) Open(ctx context.Context) (LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		if err := s.launch(); err != nil {
			return StateClosed, err
		}
	}

	s.logger.Info("loading whatsapp web")
	if _, err := s.page.Goto(webURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.opts.Timeout.Milliseconds())),
	}); err != nil {
		return StateClosed, fmt.Errorf("failed to load whatsapp web: %w", err)
	}

	// The page shows either the chat list or the QR code once it settles.
	deadline := time.Now().Add(s.opts.Timeout)
	for {
		if s.present(loggedInSelectors...) {
			s.logger.Info("already logged in")
			return StateLoggedIn, nil
		}
		if s.present(qrSelectors...) || time.Now().After(deadline) {
			return StateWaiting, nil
		}
		if err := sleep(ctx, time.Second); err != nil {
			return StateWaiting, err
		}
	}
}

func (s *WebSession) launch() error {
	dir := filepath.Join(s.opts.ProfileDir, s.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(dir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(s.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
		Locale:   playwright.String("es-ES"),
		Viewport: &playwright.Size{Width: 1200, Height: 800},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		bctx.Close()
		pw.Stop()
		return fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))

	s.pw, s.context, s.page = pw, bctx, page
	return nil
}

func (s *WebSession) State(ctx context.Context) (LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(), nil
}

func (s *WebSession) state() LoginState {
	switch {
	case s.page == nil:
		return StateClosed
	case s.present(qrSelectors...):
		return StateWaiting
	case s.present(loggedInSelectors...):
		return StateLoggedIn
	}
	return StateWaiting
}

func (s *WebSession) QRCode(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return nil, ErrNoSession
	}
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return png, nil
}

func (s *WebSession) Send(ctx context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return ErrNoSession
	}
	if s.state() != StateLoggedIn {
		return ErrNotLoggedIn
	}

	digits, err := FormatNumber(phone)
	if err != nil {
		return err
	}

	sendURL := webURL + "/send?" + url.Values{"phone": {digits}, "text": {message}}.Encode()
	s.logger.Info("sending message", "phone", phone)
	if _, err := s.page.Goto(sendURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.opts.Timeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}

	deadline := time.Now().Add(s.opts.SendTimeout)
	for {
		if s.present(errorDialogSelector) {
			return fmt.Errorf("%w: %s not on whatsapp", ErrInvalidNumber, phone)
		}
		for _, selector := range composeSelectors {
			box := s.page.Locator(selector).First()
			if n, err := box.Count(); err != nil || n == 0 {
				continue
			}
			if err := box.Press("Enter"); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
			// Give the client time to push the message out before navigating away.
			return sleep(ctx, 2*time.Second)
		}
		if time.Now().After(deadline) {
			return ErrComposeNotFound
		}
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}
}

func (s *WebSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	s.pw, s.context, s.page = nil, nil, nil

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

func (s *WebSession) present(selectors ...string) bool {
	for _, selector := range selectors {
		if n, err := s.page.Locator(selector).Count(); err == nil && n > 0 {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
