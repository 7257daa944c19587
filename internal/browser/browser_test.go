package browser

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", opts.Timeout)
	}

	if opts.Locale != "es-ES" {
		t.Errorf("Expected locale to be es-ES, got %s", opts.Locale)
	}

	if opts.TimezoneID != "America/Havana" {
		t.Errorf("Expected timezone America/Havana, got %s", opts.TimezoneID)
	}
}

func TestIsChallengeTitle(t *testing.T) {
	tests := map[string]bool{
		"Just a moment...":                 true,
		"Attention Required! | Cloudflare": true,
		"Un momento, por favor":            true,
		"Revolico - Compra y venta":        false,
		"":                                 false,
	}

	for title, want := range tests {
		if got := isChallengeTitle(title); got != want {
			t.Errorf("isChallengeTitle(%q) = %v, want %v", title, got, want)
		}
	}
}
