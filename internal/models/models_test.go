package models

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactStatusValid(t *testing.T) {
	assert.True(t, ContactStatusPending.Valid())
	assert.True(t, ContactStatusContacted.Valid())
	assert.True(t, ContactStatusFailed.Valid())
	assert.False(t, ContactStatus("").Valid())
	assert.False(t, ContactStatus("sent").Valid())
}

func TestNewCustomer(t *testing.T) {
	c := NewCustomer("+5356590251", &Listing{
		URL:      "https://www.revolico.com/item/nevera-1",
		Title:    "Nevera",
		Seller:   "Ana",
		Category: "Electrodomésticos",
	})
	assert.Equal(t, ContactStatusPending, c.Status)
	assert.Equal(t, "Nevera", c.SourceTitle)
	assert.Equal(t, "Ana", c.Seller)

	bare := NewCustomer("+5356590251", nil)
	assert.Empty(t, bare.SourceURL)
}

func TestListingResults(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l := &Listing{
		URL:   "https://www.revolico.com/item/x-1",
		Title: "Laptop",
		Phones: []PhoneNumber{
			{Number: "+5356590251", DiscoveredAt: at},
			{Number: "+5352345678", DiscoveredAt: at},
		},
	}

	assert.Equal(t, []string{"+5356590251", "+5352345678"}, l.PhoneNumbers())
	results := l.Results()
	require.Len(t, results, 2)
	assert.Equal(t, Result{Phone: "+5352345678", Title: "Laptop", URL: l.URL, Timestamp: at}, results[1])

	assert.Empty(t, (&Listing{}).Results())
}

func TestProxyEntryURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:8080", ProxyEntry{Protocol: "http", Host: "10.0.0.1", Port: 8080}.URL())
	assert.Equal(t, "socks5://u:p@proxy.example:1080",
		ProxyEntry{Protocol: "socks5", Host: "proxy.example", Port: 1080, Username: "u", Password: "p"}.URL())
}

func TestRunSummary(t *testing.T) {
	s := &RunSummary{Status: RunStatusRunning, StartedAt: time.Now().Add(-time.Second)}
	s.AddError("https://www.revolico.com/item/x-1", ErrorKindNetwork, errors.New("timeout"))

	require.Len(t, s.Errors, 1)
	assert.Equal(t, "timeout", s.Errors[0].Message)
	assert.Nil(t, s.FinishedAt)

	s.Finish(RunStatusCompleted)
	assert.Equal(t, RunStatusCompleted, s.Status)
	require.NotNil(t, s.FinishedAt)
	assert.GreaterOrEqual(t, s.Duration(), time.Second)
}

func TestSessionNameFor(t *testing.T) {
	now := time.Unix(1700000000, 0)

	assert.Equal(t, "wa_ventas_habana_1700000000", SessionNameFor("Ventas Habana!", now))
	assert.Equal(t, "wa_account_1700000000", SessionNameFor("¡¡¡", now))
	assert.Regexp(t, regexp.MustCompile(`^wa_[a-z0-9_]+_\d+$`), SessionNameFor("Número 2", now))
}

func TestWhatsAppAccountQuota(t *testing.T) {
	day1 := time.Date(2024, 5, 10, 9, 0, 0, 0, time.Local)
	a := &WhatsAppAccount{DailyLimit: 2, Active: true, LastResetDate: day1}

	assert.True(t, a.CanSend(day1))
	a.RecordSent(day1)
	a.RecordSent(day1.Add(time.Hour))
	assert.False(t, a.CanSend(day1.Add(2*time.Hour)))
	assert.Equal(t, 0, a.Remaining(day1.Add(2*time.Hour)))
	assert.Equal(t, 2, a.TotalSent)

	a.RecordFailed(day1.Add(3 * time.Hour))
	assert.Equal(t, 1, a.TotalFailed)
	assert.Equal(t, 2, a.SentToday)

	day2 := day1.Add(24 * time.Hour)
	assert.True(t, a.CanSend(day2))
	assert.Equal(t, 2, a.Remaining(day2))
	assert.Equal(t, 0, a.SentToday)

	a.Active = false
	assert.False(t, a.CanSend(day2))
}
