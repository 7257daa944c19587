package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/revolico-scraper/internal/bypass"
	"github.com/maltedev/revolico-scraper/internal/metrics"
	"github.com/maltedev/revolico-scraper/internal/ratelimit"
	"github.com/maltedev/revolico-scraper/internal/retry"
)

// ProxyPool hands out proxies and takes failure reports.
type ProxyPool interface {
	// Select returns a live proxy URL, or false for a direct connection.
	Select() (string, bool)
	MarkFailed(proxyURL string)
}

type ClientOptions struct {
	Detector  *bypass.Detector
	Headers   *HeaderRotator
	Proxies   ProxyPool
	Limiter   *ratelimit.AdaptiveRateLimiter
	PerMinute *ratelimit.MinuteLimiter
	Policy    retry.Policy
	Logger    *slog.Logger
}

// Client wraps a Fetcher with the retry policy, bypass classification and
// the corrective actions the detector suggests.
type Client struct {
	fetcher   Fetcher
	detector  *bypass.Detector
	headers   *HeaderRotator
	proxies   ProxyPool
	limiter   *ratelimit.AdaptiveRateLimiter
	perMinute *ratelimit.MinuteLimiter
	policy    retry.Policy
	logger    *slog.Logger
}

func NewClient(f Fetcher, opts ClientOptions) *Client {
	c := &Client{
		fetcher:   f,
		detector:  opts.Detector,
		headers:   opts.Headers,
		proxies:   opts.Proxies,
		limiter:   opts.Limiter,
		perMinute: opts.PerMinute,
		policy:    opts.Policy,
		logger:    opts.Logger,
	}
	if c.detector == nil {
		c.detector = bypass.NewDetector()
	}
	if c.headers == nil {
		c.headers = NewHeaderRotator(nil, nil)
	}
	if c.perMinute == nil {
		c.perMinute = ratelimit.NewMinuteLimiter(0)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "http_client")
	if c.policy.Retryable == nil {
		c.policy.Retryable = IsRetryable
	}
	return c
}

// Get fetches url and returns the first response the detector accepts.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var result *Response

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("fetch failed, retrying",
			"url", url,
			"attempt", attempt,
			"wait", wait,
			"error", err)
		var detection *DetectionError
		if errors.As(err, &detection) && detection.Verdict.Suggests(bypass.ActionRotateUserAgent) {
			return
		}
		c.headers.Rotate()
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.attempt(ctx, url)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, url string) (*Response, error) {
	if err := c.perMinute.Wait(ctx); err != nil {
		return nil, retry.Permanent(err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
	}

	req := &Request{URL: url, Headers: c.headers.Headers()}
	if c.proxies != nil {
		if p, ok := c.proxies.Select(); ok {
			req.Proxy = p
		}
	}

	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		metrics.RecordFetch("network_error", time.Since(start))
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		c.recordError(req)
		if !errors.Is(err, ErrNetwork) {
			err = fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return nil, err
	}

	verdict := c.detector.Inspect(resp.StatusCode, resp.Header, resp.Text())
	metrics.RecordFetch(string(verdict.Outcome), time.Since(start))

	if !verdict.OK() {
		c.logger.Warn("response rejected",
			"url", url,
			"status", resp.StatusCode,
			"outcome", verdict.Outcome,
			"reason", verdict.Reason,
			"proxy", req.Proxy != "")
		c.apply(verdict, req)
		return nil, &DetectionError{URL: url, StatusCode: resp.StatusCode, Verdict: verdict}
	}

	if resp.StatusCode >= 400 {
		if c.limiter != nil {
			c.limiter.RecordError()
		}
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	if c.limiter != nil {
		c.limiter.RecordSuccess()
	}
	return resp, nil
}

func (c *Client) recordError(req *Request) {
	if req.Proxy != "" && c.proxies != nil {
		c.proxies.MarkFailed(req.Proxy)
	}
	if c.limiter != nil {
		c.limiter.RecordError()
	}
}

func (c *Client) apply(v bypass.Verdict, req *Request) {
	if v.Suggests(bypass.ActionRotateProxy) && req.Proxy != "" && c.proxies != nil {
		c.proxies.MarkFailed(req.Proxy)
	}
	if v.Suggests(bypass.ActionRotateUserAgent) {
		c.headers.Rotate()
	}
	if v.Suggests(bypass.ActionIncreaseDelay) && c.limiter != nil {
		c.limiter.Backoff()
	}
}
