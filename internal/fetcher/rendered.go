package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Renderer loads a page in a real browser and returns the rendered HTML.
type Renderer interface {
	FetchRenderedPage(ctx context.Context, url string) (string, error)
}

// RenderedFetcher adapts a Renderer to the Fetcher interface. A rendered
// page has no status line, so successful renders report 200.
type RenderedFetcher struct {
	renderer Renderer
}

func NewRenderedFetcher(r Renderer) *RenderedFetcher {
	return &RenderedFetcher{renderer: r}
}

func (f *RenderedFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	page, err := f.renderer.FetchRenderedPage(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, req.URL, err)
	}
	return &Response{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       []byte(page),
		FetchedAt:  time.Now(),
	}, nil
}
