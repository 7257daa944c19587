package fetcher

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
)

var defaultLanguages = []string{
	"es-ES,es;q=0.9,en;q=0.8",
	"es-CU,es;q=0.9,en-US;q=0.7,en;q=0.6",
	"es-419,es;q=0.9,en;q=0.8",
	"en-US,en;q=0.9,es;q=0.8",
}

var searchReferers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
}

// HeaderRotator builds browser-like request headers around a rotating
// user-agent pool.
type HeaderRotator struct {
	mu        sync.Mutex
	agents    []string
	languages []string
	current   int
	rnd       *rand.Rand
}

func NewHeaderRotator(agents []string, rnd *rand.Rand) *HeaderRotator {
	if len(agents) == 0 {
		agents = []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"}
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &HeaderRotator{
		agents:    append([]string(nil), agents...),
		languages: defaultLanguages,
		current:   rnd.Intn(len(agents)),
		rnd:       rnd,
	}
}

// Rotate moves to a different user agent when the pool has more than one.
func (h *HeaderRotator) Rotate() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.agents) > 1 {
		next := h.rnd.Intn(len(h.agents) - 1)
		if next >= h.current {
			next++
		}
		h.current = next
	}
	return h.agents[h.current]
}

func (h *HeaderRotator) UserAgent() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agents[h.current]
}

// Headers returns a fresh header set for the current user agent.
func (h *HeaderRotator) Headers() http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()

	ua := h.agents[h.current]
	header := http.Header{}
	header.Set("User-Agent", ua)
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	header.Set("Accept-Language", h.languages[h.rnd.Intn(len(h.languages))])
	header.Set("DNT", "1")
	header.Set("Upgrade-Insecure-Requests", "1")
	header.Set("Cache-Control", "max-age=0")
	header.Set("Sec-Fetch-Dest", "document")
	header.Set("Sec-Fetch-Mode", "navigate")
	header.Set("Sec-Fetch-Site", "cross-site")
	header.Set("Sec-Fetch-User", "?1")

	if h.rnd.Intn(2) == 0 {
		header.Set("Referer", searchReferers[h.rnd.Intn(len(searchReferers))])
	} else {
		header.Set("Sec-Fetch-Site", "none")
	}

	if isChromium(ua) {
		header.Set("Sec-Ch-Ua", `"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`)
		header.Set("Sec-Ch-Ua-Mobile", boolHint(strings.Contains(ua, "Mobile")))
		header.Set("Sec-Ch-Ua-Platform", `"`+platform(ua)+`"`)
	}

	return header
}

func isChromium(ua string) bool {
	return (strings.Contains(ua, "Chrome/") || strings.Contains(ua, "CriOS/")) && !strings.Contains(ua, "Edg/")
}

func boolHint(b bool) string {
	if b {
		return "?1"
	}
	return "?0"
}

func platform(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Mac OS X"):
		return "macOS"
	default:
		return "Linux"
	}
}
