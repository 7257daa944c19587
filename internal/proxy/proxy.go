package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/revolico-scraper/internal/fetcher"
	"github.com/maltedev/revolico-scraper/internal/metrics"
	"github.com/maltedev/revolico-scraper/internal/models"
)

var ErrInvalidProxy = errors.New("invalid proxy")

var supportedProtocols = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// ParseProxy accepts host:port, scheme://[user:pass@]host:port and
// host:port:user:pass. The protocol defaults to http.
func ParseProxy(raw string) (models.ProxyEntry, error) {
	raw = strings.TrimSpace(raw)
	entry := models.ProxyEntry{Raw: raw, Protocol: "http"}
	if raw == "" {
		return entry, fmt.Errorf("%w: empty", ErrInvalidProxy)
	}

	s := raw
	if !strings.Contains(s, "://") {
		if parts := strings.Split(s, ":"); len(parts) == 4 {
			s = fmt.Sprintf("%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1])
		}
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return entry, fmt.Errorf("%w: %q: %v", ErrInvalidProxy, raw, err)
	}
	if !supportedProtocols[u.Scheme] {
		return entry, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidProxy, u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return entry, fmt.Errorf("%w: %q: missing host or port", ErrInvalidProxy, raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return entry, fmt.Errorf("%w: %q: bad port", ErrInvalidProxy, raw)
	}

	entry.Protocol = u.Scheme
	entry.Host = host
	entry.Port = port
	if u.User != nil {
		entry.Username = u.User.Username()
		entry.Password, _ = u.User.Password()
	}
	return entry, nil
}

// Prober checks that a proxy can reach the outside world.
type Prober interface {
	Probe(ctx context.Context, proxyURL string) error
}

// Manager tracks proxy liveness. Entries start dead until their first probe
// and a proxy marked failed stays dead until the next probe passes.
type Manager struct {
	mu       sync.RWMutex
	entries  []*models.ProxyEntry
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	rnd      *rand.Rand
	logger   *slog.Logger
}

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewManager(raw []string, prober Prober, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	m := &Manager{
		prober:   prober,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   opts.Logger.With("component", "proxy_manager"),
	}

	seen := make(map[string]bool)
	for _, r := range raw {
		entry, err := ParseProxy(r)
		if err != nil {
			m.logger.Warn("skipping proxy", "error", err)
			continue
		}
		key := entry.URL()
		if seen[key] {
			continue
		}
		seen[key] = true
		m.entries = append(m.entries, &entry)
	}
	return m
}

// Refresh probes every proxy concurrently and updates liveness.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.RLock()
	targets := make([]string, len(m.entries))
	for i, e := range m.entries {
		targets[i] = e.URL()
	}
	m.mu.RUnlock()

	if len(targets) == 0 || m.prober == nil {
		return
	}

	results := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			results[i] = m.prober.Probe(pctx, target)
		}(i, target)
	}
	wg.Wait()

	now := time.Now()
	live := 0
	m.mu.Lock()
	for i, e := range m.entries {
		if i >= len(results) {
			break
		}
		e.LastChecked = now
		e.Alive = results[i] == nil
		if e.Alive {
			live++
			e.Failures = 0
		} else {
			e.Failures++
			m.logger.Debug("proxy probe failed", "proxy", e.Host, "error", results[i])
		}
	}
	m.mu.Unlock()

	metrics.SetLiveProxies(live)
	m.logger.Info("proxy probe finished", "total", len(targets), "alive", live)
}

// Start probes immediately and then on every interval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.Refresh(ctx)
	if m.interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Refresh(ctx)
			}
		}
	}()
}

// Select picks uniformly among live proxies. It returns false when none are
// live, meaning the caller should connect directly.
func (m *Manager) Select() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var live []*models.ProxyEntry
	for _, e := range m.entries {
		if e.Alive {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return "", false
	}
	return live[m.rnd.Intn(len(live))].URL(), true
}

func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.URL() == proxyURL {
			if e.Alive {
				m.logger.Info("proxy marked failed", "proxy", e.Host)
			}
			e.Alive = false
			e.Failures++
			return
		}
	}
}

func (m *Manager) Entries() []models.ProxyEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ProxyEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = *e
	}
	return out
}

func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.Alive {
			n++
		}
	}
	return n
}

// FetchProber probes by fetching a test URL through the proxy and requiring
// a 200 response.
type FetchProber struct {
	fetcher fetcher.Fetcher
	testURL string
}

func NewFetchProber(f fetcher.Fetcher, testURL string) *FetchProber {
	return &FetchProber{fetcher: f, testURL: testURL}
}

func (p *FetchProber) Probe(ctx context.Context, proxyURL string) error {
	resp, err := p.fetcher.Fetch(ctx, &fetcher.Request{URL: p.testURL, Proxy: proxyURL})
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}
