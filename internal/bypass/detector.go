package bypass

import (
	"net/http"
	"strings"
)

type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeChallenge   Outcome = "challenge"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeBlocked     Outcome = "blocked"
)

type Action string

const (
	ActionRotateProxy     Action = "rotate_proxy"
	ActionRotateUserAgent Action = "rotate_user_agent"
	ActionIncreaseDelay   Action = "increase_delay"
)

const (
	ProtectionCloudflare = "cloudflare"
	ProtectionCaptcha    = "captcha"
)

// Verdict is the detector's classification of one response. The detector
// never retries; callers act on Actions.
type Verdict struct {
	Outcome     Outcome  `json:"outcome"`
	Reason      string   `json:"reason,omitempty"`
	Protections []string `json:"protections,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
}

func (v Verdict) OK() bool {
	return v.Outcome == OutcomeOK
}

func (v Verdict) Suggests(action Action) bool {
	for _, a := range v.Actions {
		if a == action {
			return true
		}
	}
	return false
}

type Detector struct {
	challengeMarkers []string
	captchaMarkers   []string
	rateLimitMarkers []string
	blockMarkers     []string
}

func NewDetector() *Detector {
	return &Detector{
		challengeMarkers: []string{
			"just a moment",
			"checking your browser",
			"challenge-platform",
			"cf-chl",
			"please wait while we check",
			"ddos protection by",
			"attention required",
		},
		captchaMarkers: []string{
			"g-recaptcha",
			"h-captcha",
			"cf-turnstile",
			"verify you are human",
			"are you a robot",
		},
		rateLimitMarkers: []string{
			"rate limit",
			"too many requests",
		},
		blockMarkers: []string{
			"access denied",
			"ha ocurrido un error",
		},
	}
}

func (d *Detector) Inspect(status int, header http.Header, body string) Verdict {
	lower := strings.ToLower(body)
	cloudflare := servedByCloudflare(header)

	if status == http.StatusTooManyRequests {
		return rateLimited("status 429")
	}
	if marker, ok := containsAny(lower, d.rateLimitMarkers); ok {
		return rateLimited("body contains " + marker)
	}

	if marker, ok := containsAny(lower, d.challengeMarkers); ok {
		return Verdict{
			Outcome:     OutcomeChallenge,
			Reason:      "body contains " + marker,
			Protections: []string{ProtectionCloudflare},
			Actions:     []Action{ActionRotateUserAgent, ActionIncreaseDelay},
		}
	}

	if marker, ok := containsAny(lower, d.captchaMarkers); ok {
		protections := []string{ProtectionCaptcha}
		if cloudflare {
			protections = append(protections, ProtectionCloudflare)
		}
		return Verdict{
			Outcome:     OutcomeChallenge,
			Reason:      "body contains " + marker,
			Protections: protections,
			Actions:     []Action{ActionRotateProxy, ActionRotateUserAgent},
		}
	}

	switch status {
	case http.StatusForbidden:
		v := blocked("status 403")
		if cloudflare {
			v.Protections = []string{ProtectionCloudflare}
		}
		return v
	case http.StatusServiceUnavailable:
		return Verdict{
			Outcome: OutcomeBlocked,
			Reason:  "status 503",
			Actions: []Action{ActionIncreaseDelay},
		}
	}

	if marker, ok := containsAny(lower, d.blockMarkers); ok {
		return blocked("body contains " + marker)
	}

	return Verdict{Outcome: OutcomeOK}
}

func rateLimited(reason string) Verdict {
	return Verdict{
		Outcome: OutcomeRateLimited,
		Reason:  reason,
		Actions: []Action{ActionIncreaseDelay, ActionRotateProxy},
	}
}

func blocked(reason string) Verdict {
	return Verdict{
		Outcome: OutcomeBlocked,
		Reason:  reason,
		Actions: []Action{ActionRotateProxy, ActionRotateUserAgent},
	}
}

func servedByCloudflare(header http.Header) bool {
	if header == nil {
		return false
	}
	if header.Get("Cf-Ray") != "" {
		return true
	}
	return strings.EqualFold(header.Get("Server"), "cloudflare")
}

func containsAny(s string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return m, true
		}
	}
	return "", false
}
