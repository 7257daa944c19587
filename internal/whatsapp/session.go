package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type LoginState string

const (
	StateLoggedIn LoginState = "logged_in"
	StateWaiting  LoginState = "waiting"
	StateClosed   LoginState = "closed"
)

var (
	ErrNotLoggedIn     = errors.New("whatsapp session not logged in")
	ErrNoSession       = errors.New("whatsapp session not started")
	ErrInvalidNumber   = errors.New("invalid whatsapp number")
	ErrComposeNotFound = errors.New("message input not found")
	ErrDailyLimit      = errors.New("daily message limit reached")
	ErrAccountInactive = errors.New("whatsapp account inactive")
	ErrNoAccount       = errors.New("no whatsapp account available")
	ErrInvalidAccount  = errors.New("invalid whatsapp account")
	ErrUnknownTemplate = errors.New("unknown message template")
)

// Session is one logged-in WhatsApp Web client.
type Session interface {
	// Open starts the client and reports whether a QR scan is still needed.
	Open(ctx context.Context) (LoginState, error)
	State(ctx context.Context) (LoginState, error)
	// QRCode returns a PNG of the login screen.
	QRCode(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, phone, message string) error
	Close() error
}

// FormatNumber turns a canonical +53XXXXXXXX phone into the digits WhatsApp
// expects: 53 followed by 8 digits.
func FormatNumber(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 8:
		digits = "53" + digits
	case len(digits) == 12 && strings.HasPrefix(digits, "0053"):
		digits = digits[2:]
	}

	if len(digits) != 10 || !strings.HasPrefix(digits, "53") || digits[2] < '5' {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, phone)
	}
	return digits, nil
}
