package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/revolico-scraper/internal/database/sqlite"
	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/jobs"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/internal/storage"
	"github.com/maltedev/revolico-scraper/internal/whatsapp"
)

type fakeJobs struct {
	mu       sync.Mutex
	scraping bool
	campaign *whatsapp.CampaignOptions
}

func (j *fakeJobs) StartScrape() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.scraping {
		return jobs.ErrAlreadyRunning
	}
	j.scraping = true
	return nil
}

func (j *fakeJobs) StopScrape() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.scraping {
		return jobs.ErrNotRunning
	}
	j.scraping = false
	return nil
}

func (j *fakeJobs) StartCampaign(opts whatsapp.CampaignOptions) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.campaign = &opts
	return nil
}

func (j *fakeJobs) StopCampaign() error {
	return jobs.ErrNotRunning
}

func (j *fakeJobs) Status() jobs.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return jobs.Status{Scraping: j.scraping}
}

type qrSession struct{}

func (qrSession) Open(ctx context.Context) (whatsapp.LoginState, error) {
	return whatsapp.StateWaiting, nil
}

func (qrSession) State(ctx context.Context) (whatsapp.LoginState, error) {
	return whatsapp.StateWaiting, nil
}

func (qrSession) QRCode(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func (qrSession) Send(ctx context.Context, phone, message string) error { return nil }
func (qrSession) Close() error                                          { return nil }

type testServer struct {
	router    http.Handler
	jobs      *fakeJobs
	customers *sqlite.CustomerRepository
	results   *storage.ResultStore
	hub       *events.Hub
}

func newTestServer(t *testing.T, withWhatsApp bool) *testServer {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	results, err := storage.NewResultStore(filepath.Join(t.TempDir(), "revolico_results.json"))
	require.NoError(t, err)

	ts := &testServer{
		jobs:      &fakeJobs{},
		customers: sqlite.NewCustomerRepository(db),
		results:   results,
		hub:       events.NewHub(events.DefaultHistory, nil),
	}

	deps := Deps{
		Jobs:      ts.jobs,
		Customers: ts.customers,
		Results:   results,
		Outbox:    sqlite.NewOutboxRepository(db),
		Events:    ts.hub,
	}
	if withWhatsApp {
		factory := func(*models.WhatsAppAccount) (whatsapp.Session, error) { return qrSession{}, nil }
		deps.WhatsApp = whatsapp.NewManager(sqlite.NewAccountRepository(db), factory, whatsapp.ManagerOptions{Events: ts.hub})
	}

	ts.router = NewRouter(NewHandlers(deps), RouterOptions{})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seed(t *testing.T, phones ...string) {
	t.Helper()
	for i, phone := range phones {
		listing := &models.Listing{URL: "https://www.revolico.com/item/x-" + phone, Title: "Anuncio " + string(rune('A'+i))}
		_, err := ts.customers.Save(context.Background(), models.NewCustomer(phone, listing))
		require.NoError(t, err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "outbox")
}

func TestScrapingControl(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/stop-scraping", "").Code)
	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/start-scraping", "").Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/start-scraping", "").Code)

	rec := ts.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	decode(t, rec, &status)
	assert.True(t, status.Scraping)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/stop-scraping", "").Code)
}

func TestStatusIncludesCustomerStats(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seed(t, "+5356590251", "+5352345678")
	_, err := ts.results.Add(models.Result{Phone: "+5356590251", Title: "Nevera"})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	decode(t, rec, &status)
	assert.Equal(t, 2, status.Customers.Total)
	assert.Equal(t, 2, status.Customers.Pending)
	assert.Equal(t, 1, status.Results)
	assert.Equal(t, 0, status.LiveProxies)
}

func TestListCustomers(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seed(t, "+5356590251", "+5352345678", "+5358765432")

	rec := ts.do(t, http.MethodGet, "/api/customers?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CustomerListResponse
	decode(t, rec, &resp)
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Customers, 2)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 3, resp.Stats.Pending)

	rec = ts.do(t, http.MethodGet, "/api/customers?search=5352", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	require.Len(t, resp.Customers, 1)
	assert.Equal(t, "+5352345678", resp.Customers[0].Phone)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/customers?status=bogus", "").Code)
}

func TestGetCustomer(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seed(t, "+5356590251")

	rec := ts.do(t, http.MethodGet, "/api/customers/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c models.Customer
	decode(t, rec, &c)
	assert.Equal(t, "+5356590251", c.Phone)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/customers/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/customers/abc", "").Code)
}

func TestMarkContacted(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seed(t, "+5356590251")

	rec := ts.do(t, http.MethodPost, "/api/customers/1/contact", `{"notes":"llamado por telefono"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var c models.Customer
	decode(t, rec, &c)
	assert.Equal(t, models.ContactStatusContacted, c.Status)
	assert.Equal(t, "llamado por telefono", c.Notes)
	assert.NotNil(t, c.ContactedAt)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/customers/1/contact", `{"status":"maybe"}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/customers/42/contact", `{}`).Code)
}

func TestClearCustomers(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seed(t, "+5356590251", "+5352345678")

	rec := ts.do(t, http.MethodPost, "/api/customers/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	decode(t, rec, &body)
	assert.Equal(t, 2, body["deleted"])

	stats, err := ts.customers.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestResults(t *testing.T) {
	ts := newTestServer(t, false)
	_, err := ts.results.Add(
		models.Result{Phone: "+5356590251", Title: "Nevera"},
		models.Result{Phone: "+5352345678", Title: "Sofa"},
	)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []models.Result `json:"results"`
		Count   int             `json:"count"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "Nevera", body.Results[0].Title)

	rec = ts.do(t, http.MethodGet, "/download/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "revolico_results.json")
	var rows []models.Result
	decode(t, rec, &rows)
	assert.Len(t, rows, 2)
}

func TestProxiesWithoutManager(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/proxies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"proxies":[],"live":0}`, rec.Body.String())
}

func TestWhatsAppDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/api/whatsapp/accounts", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodPost, "/api/whatsapp/accounts/1/setup", "").Code)
}

func TestWhatsAppAccounts(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/whatsapp/accounts", `{"name":"  "}`).Code)

	rec := ts.do(t, http.MethodPost, "/api/whatsapp/accounts", `{"name":"Ventas","daily_limit":25}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var account models.WhatsAppAccount
	decode(t, rec, &account)
	assert.Equal(t, "Ventas", account.Name)
	assert.Equal(t, 25, account.DailyLimit)

	rec = ts.do(t, http.MethodGet, "/api/whatsapp/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Accounts []models.WhatsAppAccount `json:"accounts"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Accounts, 1)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/whatsapp/accounts/1/qr", "").Code)

	rec = ts.do(t, http.MethodPost, "/api/whatsapp/accounts/1/setup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var setup map[string]interface{}
	decode(t, rec, &setup)
	assert.Equal(t, "waiting", setup["state"])
	assert.Equal(t, true, setup["needs_qr"])

	rec = ts.do(t, http.MethodGet, "/api/whatsapp/accounts/1/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = ts.do(t, http.MethodGet, "/api/whatsapp/accounts/1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status whatsapp.AccountStatus
	decode(t, rec, &status)
	assert.Equal(t, whatsapp.StateWaiting, status.State)
	assert.Equal(t, 25, status.Remaining)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/whatsapp/accounts/1", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/whatsapp/accounts/1/status", "").Code)
}

func TestStartCampaign(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/whatsapp/start-campaign", `{"template":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/whatsapp/start-campaign", `{"limit":-1}`).Code)

	rec := ts.do(t, http.MethodPost, "/api/whatsapp/start-campaign", `{"account_id":3,"template":"rico_promo","limit":5}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, ts.jobs.campaign)
	assert.Equal(t, int64(3), ts.jobs.campaign.AccountID)
	assert.Equal(t, 5, ts.jobs.campaign.Limit)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/whatsapp/stop", "").Code)
}

func TestUncontactedAndTemplates(t *testing.T) {
	ts := newTestServer(t, true)
	ts.seed(t, "+5356590251", "+5352345678")

	rec := ts.do(t, http.MethodGet, "/api/whatsapp/uncontacted?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Customers []models.Customer `json:"customers"`
		Count     int               `json:"count"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 1, body.Count)

	rec = ts.do(t, http.MethodGet, "/api/whatsapp/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var templates struct {
		Templates map[string]string `json:"templates"`
		Default   string            `json:"default"`
	}
	decode(t, rec, &templates)
	assert.Equal(t, whatsapp.DefaultTemplate, templates.Default)
	assert.Contains(t, templates.Templates, "rico_promo")
	assert.Contains(t, templates.Templates, "business_intro")
}

func TestRecentEvents(t *testing.T) {
	ts := newTestServer(t, false)
	ts.hub.Log(events.LevelInfo, "uno")
	ts.hub.Log(events.LevelWarning, "dos")

	rec := ts.do(t, http.MethodGet, "/api/events/recent?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []events.Event `json:"events"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "dos", body.Events[0].Message)
}

func TestStreamEvents(t *testing.T) {
	ts := newTestServer(t, false)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return ts.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.hub.Publish(events.Event{Type: events.TypeCustomerDiscovered, Level: events.LevelSuccess, Message: "Nuevo cliente"})

	reader := bufio.NewReader(resp.Body)
	var eventName, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	assert.Equal(t, string(events.TypeCustomerDiscovered), eventName)
	var e events.Event
	require.NoError(t, json.Unmarshal([]byte(data), &e))
	assert.Equal(t, "Nuevo cliente", e.Message)
	assert.NotEmpty(t, e.ID)

	cancel()
	assert.Eventually(t, func() bool { return ts.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
