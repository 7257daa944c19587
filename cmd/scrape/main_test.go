package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/revolico-scraper/internal/models"
)

func TestSplitURLs(t *testing.T) {
	assert.Nil(t, splitURLs(""))
	assert.Equal(t, []string{
		"https://www.revolico.com/item/a-1",
		"https://www.revolico.com/item/b-2",
	}, splitURLs(" https://www.revolico.com/item/a-1, ,https://www.revolico.com/item/b-2 "))
}

func testSummary() *models.RunSummary {
	s := &models.RunSummary{
		ID:                "run-1",
		StartedAt:         time.Now().Add(-2 * time.Second),
		ListingsFound:     3,
		ListingsProcessed: 3,
		ListingsFailed:    1,
		PhonesFound:       2,
		NewCustomers:      1,
	}
	s.AddError("https://www.revolico.com/item/x-1", models.ErrorKindParse, errors.New("no phone number found"))
	s.Finish(models.RunStatusCompleted)
	return s
}

func TestPrintSummaryText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, testSummary(), "text"))

	out := buf.String()
	assert.Contains(t, out, "Run run-1: completed")
	assert.Contains(t, out, "3 found, 3 processed, 1 failed")
	assert.Contains(t, out, "2 found, 1 new customers")
	assert.Contains(t, out, "[parse] https://www.revolico.com/item/x-1: no phone number found")
}

func TestPrintSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, testSummary(), "json"))

	var decoded models.RunSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.ID)
	assert.Len(t, decoded.Errors, 1)
}
