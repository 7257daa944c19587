package models

import (
	"time"
)

type Listing struct {
	URL         string        `json:"url"`
	RevolicoID  string        `json:"revolico_id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Price       Price         `json:"price"`
	Seller      string        `json:"seller,omitempty"`
	Location    string        `json:"location,omitempty"`
	Category    string        `json:"category,omitempty"`
	Phones      []PhoneNumber `json:"phones"`
	HTML        string        `json:"-"`
	FetchedAt   time.Time     `json:"fetched_at"`
}

type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// PhoneNumber is a canonical +53XXXXXXXX number and the listing it came from.
type PhoneNumber struct {
	Number       string    `json:"number"`
	ListingURL   string    `json:"listing_url"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Result is one row of the JSON output file.
type Result struct {
	Phone     string    `json:"phone"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

func (l *Listing) PhoneNumbers() []string {
	numbers := make([]string, 0, len(l.Phones))
	for _, p := range l.Phones {
		numbers = append(numbers, p.Number)
	}
	return numbers
}

func (l *Listing) Results() []Result {
	results := make([]Result, 0, len(l.Phones))
	for _, p := range l.Phones {
		results = append(results, Result{
			Phone:     p.Number,
			Title:     l.Title,
			URL:       l.URL,
			Timestamp: p.DiscoveredAt,
		})
	}
	return results
}
