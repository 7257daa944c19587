package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/revolico-scraper/internal/models"
)

// ResultStore keeps the JSON output file: an array of results with one row
// per phone number. Rows keep their first-seen order.
type ResultStore struct {
	mu       sync.RWMutex
	results  []models.Result
	byPhone  map[string]int
	filename string
}

func NewResultStore(filename string) (*ResultStore, error) {
	rs := &ResultStore{
		byPhone:  make(map[string]int),
		filename: filename,
	}

	if err := rs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return rs, nil
}

// Add appends results whose phone is not stored yet and returns how many
// were new. The file is only rewritten when something changed.
func (rs *ResultStore) Add(results ...models.Result) (int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	added := 0
	for _, r := range results {
		if r.Phone == "" {
			continue
		}
		if _, exists := rs.byPhone[r.Phone]; exists {
			continue
		}
		rs.byPhone[r.Phone] = len(rs.results)
		rs.results = append(rs.results, r)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	return added, rs.save()
}

func (rs *ResultStore) All() []models.Result {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]models.Result, len(rs.results))
	copy(out, rs.results)
	return out
}

func (rs *ResultStore) Has(phone string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	_, ok := rs.byPhone[phone]
	return ok
}

func (rs *ResultStore) Count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.results)
}

func (rs *ResultStore) Path() string {
	return rs.filename
}

func (rs *ResultStore) Clear() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.results = nil
	rs.byPhone = make(map[string]int)
	return rs.save()
}

func (rs *ResultStore) save() error {
	results := rs.results
	if results == nil {
		results = []models.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(rs.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Write to temp file first for atomicity
	tmpFile := rs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, rs.filename)
}

// Load replaces the in-memory results with the file contents, dropping rows
// whose phone repeats an earlier one.
func (rs *ResultStore) Load() error {
	data, err := os.ReadFile(rs.filename)
	if err != nil {
		return err
	}

	var loaded []models.Result
	if len(data) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to parse %s: %w", rs.filename, err)
		}
	}

	rs.results = nil
	rs.byPhone = make(map[string]int)
	for _, r := range loaded {
		if _, exists := rs.byPhone[r.Phone]; exists || r.Phone == "" {
			continue
		}
		rs.byPhone[r.Phone] = len(rs.results)
		rs.results = append(rs.results, r)
	}
	return nil
}
