package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const DefaultDailyMessageLimit = 100

type WhatsAppAccount struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	SessionName   string     `json:"session_name"`
	LoggedIn      bool       `json:"logged_in"`
	DailyLimit    int        `json:"daily_limit"`
	SentToday     int        `json:"sent_today"`
	LastResetDate time.Time  `json:"last_reset_date"`
	TotalSent     int        `json:"total_sent"`
	TotalFailed   int        `json:"total_failed"`
	Active        bool       `json:"active"`
	Notes         string     `json:"notes,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

var sessionNameSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// SessionNameFor derives the browser profile name for an account.
func SessionNameFor(name string, now time.Time) string {
	clean := sessionNameSanitizer.ReplaceAllString(strings.ToLower(name), "_")
	clean = strings.Trim(clean, "_")
	if clean == "" {
		clean = "account"
	}
	return fmt.Sprintf("wa_%s_%d", clean, now.Unix())
}

// ResetIfNewDay zeroes the daily counter when now falls on a later calendar day
// than the last reset. It reports whether a reset happened.
func (a *WhatsAppAccount) ResetIfNewDay(now time.Time) bool {
	y1, m1, d1 := a.LastResetDate.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return false
	}
	a.SentToday = 0
	a.LastResetDate = now
	return true
}

func (a *WhatsAppAccount) CanSend(now time.Time) bool {
	a.ResetIfNewDay(now)
	return a.Active && a.SentToday < a.DailyLimit
}

func (a *WhatsAppAccount) Remaining(now time.Time) int {
	a.ResetIfNewDay(now)
	if remaining := a.DailyLimit - a.SentToday; remaining > 0 {
		return remaining
	}
	return 0
}

func (a *WhatsAppAccount) RecordSent(now time.Time) {
	a.ResetIfNewDay(now)
	a.SentToday++
	a.TotalSent++
	a.LastUsedAt = &now
}

func (a *WhatsAppAccount) RecordFailed(now time.Time) {
	a.TotalFailed++
	a.LastUsedAt = &now
}

type CampaignSummary struct {
	AccountID  int64      `json:"account_id"`
	Account    string     `json:"account"`
	Template   string     `json:"template"`
	Status     string     `json:"status"`
	Targeted   int        `json:"targeted"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
