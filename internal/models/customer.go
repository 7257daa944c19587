package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type ContactStatus string

const (
	ContactStatusPending   ContactStatus = "pending"
	ContactStatusContacted ContactStatus = "contacted"
	ContactStatusFailed    ContactStatus = "failed"
)

func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusPending, ContactStatusContacted, ContactStatusFailed:
		return true
	}
	return false
}

type Customer struct {
	ID                int64         `json:"id"`
	Phone             string        `json:"phone"`
	Status            ContactStatus `json:"status"`
	Notes             string        `json:"notes,omitempty"`
	SourceURL         string        `json:"source_url"`
	SourceTitle       string        `json:"source_title"`
	Seller            string        `json:"seller,omitempty"`
	Category          string        `json:"category,omitempty"`
	WhatsAppStatus    string        `json:"whatsapp_status,omitempty"`
	WhatsAppAccountID *int64        `json:"whatsapp_account_id,omitempty"`
	ContactedAt       *time.Time    `json:"contacted_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NewCustomer builds a pending customer for a phone found on a listing.
func NewCustomer(phone string, listing *Listing) *Customer {
	c := &Customer{
		Phone:  phone,
		Status: ContactStatusPending,
	}
	if listing != nil {
		c.SourceURL = listing.URL
		c.SourceTitle = listing.Title
		c.Seller = listing.Seller
		c.Category = listing.Category
	}
	return c
}

// ContactUpdate records an operator or WhatsApp contact attempt.
type ContactUpdate struct {
	Status         ContactStatus
	Notes          string
	WhatsAppStatus string
	AccountID      *int64
	At             time.Time
}

type CustomerFilter struct {
	Status ContactStatus
	Search string
	Limit  int
	Offset int
}

type CustomerStats struct {
	Total     int `json:"total"`
	Contacted int `json:"contacted"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}
