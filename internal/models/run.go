package models

import (
	"time"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
	RunStatusFailed    = "failed"
)

// Error kinds recorded in a run's error log.
const (
	ErrorKindNetwork    = "network"
	ErrorKindChallenge  = "challenge"
	ErrorKindParse      = "parse"
	ErrorKindValidation = "validation"
	ErrorKindStorage    = "storage"
	ErrorKindUnknown    = "unknown"
)

type RunError struct {
	URL     string    `json:"url"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type RunSummary struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	ListingsFound     int        `json:"listings_found"`
	ListingsProcessed int        `json:"listings_processed"`
	ListingsFailed    int        `json:"listings_failed"`
	PhonesFound       int        `json:"phones_found"`
	NewCustomers      int        `json:"new_customers"`
	Errors            []RunError `json:"errors"`
}

func (r *RunSummary) AddError(url, kind string, err error) {
	r.Errors = append(r.Errors, RunError{
		URL:     url,
		Kind:    kind,
		Message: err.Error(),
		At:      time.Now(),
	})
}

func (r *RunSummary) Finish(status string) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
}

func (r *RunSummary) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
