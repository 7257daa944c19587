package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/maltedev/revolico-scraper/internal/bypass"
)

var (
	ErrNetwork     = errors.New("network error")
	ErrChallenge   = errors.New("anti-bot challenge")
	ErrRateLimited = errors.New("rate limited")
	ErrBlocked     = errors.New("blocked")
	ErrHTTPStatus  = errors.New("unexpected HTTP status")
)

type Request struct {
	URL     string
	Headers http.Header
	// Proxy is a proxy URL; empty means a direct connection.
	Proxy string
}

type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	FetchedAt  time.Time
}

func (r *Response) Text() string {
	return string(r.Body)
}

// Fetcher retrieves one page. It returns a response for any HTTP status and
// an error only when no response was received.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// DetectionError carries the bypass verdict that rejected a response.
type DetectionError struct {
	URL        string
	StatusCode int
	Verdict    bypass.Verdict
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("%s: %s (status %d, %s)", e.URL, e.Verdict.Outcome, e.StatusCode, e.Verdict.Reason)
}

func (e *DetectionError) Unwrap() error {
	switch e.Verdict.Outcome {
	case bypass.OutcomeChallenge:
		return ErrChallenge
	case bypass.OutcomeRateLimited:
		return ErrRateLimited
	default:
		return ErrBlocked
	}
}

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrHTTPStatus
}

// IsRetryable reports whether another attempt could succeed. Client errors
// other than those the detector classifies are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}

	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrChallenge) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBlocked)
}
