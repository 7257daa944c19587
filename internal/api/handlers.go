package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/revolico-scraper/internal/events"
	"github.com/maltedev/revolico-scraper/internal/jobs"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/maltedev/revolico-scraper/internal/whatsapp"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type JobController interface {
	StartScrape() error
	StopScrape() error
	StartCampaign(opts whatsapp.CampaignOptions) error
	StopCampaign() error
	Status() jobs.Status
}

type CustomerStore interface {
	Get(ctx context.Context, id int64) (*models.Customer, error)
	List(ctx context.Context, f models.CustomerFilter) ([]models.Customer, int, error)
	Stats(ctx context.Context) (models.CustomerStats, error)
	UpdateContact(ctx context.Context, id int64, u models.ContactUpdate) error
	ListUncontacted(ctx context.Context, limit int) ([]models.Customer, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type ResultReader interface {
	All() []models.Result
	Path() string
}

type ProxyLister interface {
	Entries() []models.ProxyEntry
	LiveCount() int
}

type OutboxCounter interface {
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
	Recent(limit int) []events.Event
}

type WhatsAppAccounts interface {
	CreateAccount(ctx context.Context, name string, dailyLimit int, notes string) (*models.WhatsAppAccount, error)
	ListAccounts(ctx context.Context) ([]models.WhatsAppAccount, error)
	DeleteAccount(ctx context.Context, id int64) error
	Setup(ctx context.Context, id int64) (whatsapp.LoginState, error)
	Status(ctx context.Context, id int64) (*whatsapp.AccountStatus, error)
	QRCode(ctx context.Context, id int64) ([]byte, error)
}

// Deps wires the handlers. Proxies, Outbox and WhatsApp may be nil.
type Deps struct {
	Jobs      JobController
	Customers CustomerStore
	Results   ResultReader
	Proxies   ProxyLister
	Outbox    OutboxCounter
	Events    EventSource
	WhatsApp  WhatsAppAccounts
	Templates *whatsapp.Templates
	Logger    *slog.Logger
}

type Handlers struct {
	jobs      JobController
	customers CustomerStore
	results   ResultReader
	proxies   ProxyLister
	outbox    OutboxCounter
	events    EventSource
	whatsapp  WhatsAppAccounts
	templates *whatsapp.Templates
	logger    *slog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Templates == nil {
		deps.Templates = whatsapp.DefaultTemplates()
	}
	return &Handlers{
		jobs:      deps.Jobs,
		customers: deps.Customers,
		results:   deps.Results,
		proxies:   deps.Proxies,
		outbox:    deps.Outbox,
		events:    deps.Events,
		whatsapp:  deps.WhatsApp,
		templates: deps.Templates,
		logger:    deps.Logger.With("component", "api"),
	}
}

// Health reports ok unless the outbox has given up on too many events.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to count outbox events", "error", err)
			h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

type StatusResponse struct {
	jobs.Status
	Customers    models.CustomerStats `json:"customers"`
	Results      int                  `json:"results"`
	LiveProxies  int                  `json:"live_proxies"`
	TotalProxies int                  `json:"total_proxies"`
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.customers.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get customer stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get status")
		return
	}

	resp := StatusResponse{
		Status:    h.jobs.Status(),
		Customers: stats,
		Results:   len(h.results.All()),
	}
	if h.proxies != nil {
		resp.LiveProxies = h.proxies.LiveCount()
		resp.TotalProxies = len(h.proxies.Entries())
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) StartScraping(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.StartScrape(); err != nil {
		h.respondJobError(w, err, "failed to start scraping")
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"message": "Scraping started"})
}

func (h *Handlers) StopScraping(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.StopScrape(); err != nil {
		h.respondJobError(w, err, "failed to stop scraping")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Stop requested"})
}

type CustomerListResponse struct {
	Customers []models.Customer    `json:"customers"`
	Total     int                  `json:"total"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
	Stats     models.CustomerStats `json:"stats"`
}

func (h *Handlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CustomerFilter{
		Status: models.ContactStatus(q.Get("status")),
		Search: q.Get("search"),
		Limit:  queryInt(q.Get("limit"), defaultPageSize),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	customers, total, err := h.customers.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list customers", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list customers")
		return
	}
	stats, err := h.customers.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get customer stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list customers")
		return
	}
	if customers == nil {
		customers = []models.Customer{}
	}

	h.respondJSON(w, http.StatusOK, CustomerListResponse{
		Customers: customers,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
		Stats:     stats,
	})
}

func (h *Handlers) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	customer, err := h.customers.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "failed to get customer")
		return
	}
	h.respondJSON(w, http.StatusOK, customer)
}

type ContactRequest struct {
	Status models.ContactStatus `json:"status"`
	Notes  string               `json:"notes"`
}

// MarkContacted records a manual contact attempt.
func (h *Handlers) MarkContacted(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ContactRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Status == "" {
		req.Status = models.ContactStatusContacted
	}
	if !req.Status.Valid() {
		h.respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	update := models.ContactUpdate{
		Status:         req.Status,
		Notes:          req.Notes,
		WhatsAppStatus: "manual",
		At:             time.Now(),
	}
	if err := h.customers.UpdateContact(r.Context(), id, update); err != nil {
		h.respondStoreError(w, err, "failed to update customer")
		return
	}

	customer, err := h.customers.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "failed to get customer")
		return
	}
	h.respondJSON(w, http.StatusOK, customer)
}

func (h *Handlers) ClearCustomers(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.customers.DeleteAll(r.Context())
	if err != nil {
		h.logger.Error("failed to clear customers", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear customers")
		return
	}
	h.logger.Warn("customer database cleared", "deleted", deleted)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	results := h.results.All()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (h *Handlers) DownloadResults(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(h.results.Path())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.respondJSON(w, http.StatusOK, h.results.All())
}

func (h *Handlers) ListProxies(w http.ResponseWriter, r *http.Request) {
	if h.proxies == nil {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"proxies": []models.ProxyEntry{},
			"live":    0,
		})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"proxies": h.proxies.Entries(),
		"live":    h.proxies.LiveCount(),
	})
}

func (h *Handlers) respondJobError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning), errors.Is(err, jobs.ErrNotRunning):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrCampaignsUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error(message, "error", err)
		h.respondError(w, http.StatusInternalServerError, message)
	}
}

func (h *Handlers) respondStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrDuplicate):
		h.respondError(w, http.StatusConflict, "already exists")
	default:
		h.logger.Error(message, "error", err)
		h.respondError(w, http.StatusInternalServerError, message)
	}
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
