package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher fetches pages with a fresh colly collector per request so
// proxy and header choices never leak between requests.
type CollyFetcher struct {
	timeout time.Duration
}

func NewCollyFetcher(timeout time.Duration) *CollyFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &CollyFetcher{timeout: timeout}
}

func (f *CollyFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(f.timeout)

	if req.Proxy != "" {
		if err := c.SetProxy(req.Proxy); err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", req.Proxy, err)
		}
	}

	var resp *Response
	c.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		resp = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       r.Body,
			FetchedAt:  time.Now(),
		}
	})

	headers := req.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	// net/http only decompresses transparently when it set Accept-Encoding itself.
	headers.Del("Accept-Encoding")

	if err := c.Request(http.MethodGet, req.URL, nil, nil, headers); err != nil && resp == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, req.URL, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s: no response", ErrNetwork, req.URL)
	}

	return resp, nil
}
