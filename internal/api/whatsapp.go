package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maltedev/revolico-scraper/internal/whatsapp"
)

type CreateAccountRequest struct {
	Name       string `json:"name"`
	DailyLimit int    `json:"daily_limit"`
	Notes      string `json:"notes"`
}

func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.whatsappEnabled(w) {
		return
	}
	accounts, err := h.whatsapp.ListAccounts(r.Context())
	if err != nil {
		h.respondStoreError(w, err, "failed to list accounts")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.whatsappEnabled(w) {
		return
	}
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.whatsapp.CreateAccount(r.Context(), req.Name, req.DailyLimit, req.Notes)
	if err != nil {
		if errors.Is(err, whatsapp.ErrInvalidAccount) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondStoreError(w, err, "failed to create account")
		return
	}
	h.respondJSON(w, http.StatusCreated, account)
}

func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if !h.whatsappEnabled(w) {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.whatsapp.DeleteAccount(r.Context(), id); err != nil {
		h.respondStoreError(w, err, "failed to delete account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetupAccount opens the account's browser session; the response tells
// whether a QR code has to be scanned.
func (h *Handlers) SetupAccount(w http.ResponseWriter, r *http.Request) {
	if !h.whatsappEnabled(w) {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	state, err := h.whatsapp.Setup(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "failed to set up account")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":     state,
		"needs_qr":  state == whatsapp.StateWaiting,
		"logged_in": state == whatsapp.StateLoggedIn,
	})
}

func (h *Handlers) AccountStatus(w http.ResponseWriter, r *http.Request) {
	if !h.whatsappEnabled(w) {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	status, err := h.whatsapp.Status(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "failed to get account status")
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) AccountQR(w http.ResponseWriter, r *http.Request) {
	if !h.whatsappEnabled(w) {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	png, err := h.whatsapp.QRCode(r.Context(), id)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNoSession) {
			h.respondError(w, http.StatusNotFound, "no session, run setup first")
			return
		}
		h.respondStoreError(w, err, "failed to capture QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Error("failed to write QR code", "error", err)
	}
}

func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	var opts whatsapp.CampaignOptions
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if opts.Limit < 0 {
		h.respondError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}
	if _, err := h.templates.Compile(opts.Template, opts.Message); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jobs.StartCampaign(opts); err != nil {
		h.respondJobError(w, err, "failed to start campaign")
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"message": "Campaign started"})
}

func (h *Handlers) StopCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.StopCampaign(); err != nil {
		h.respondJobError(w, err, "failed to stop campaign")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Stop requested"})
}

func (h *Handlers) ListUncontacted(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	customers, err := h.customers.ListUncontacted(r.Context(), limit)
	if err != nil {
		h.respondStoreError(w, err, "failed to list uncontacted customers")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"customers": customers,
		"count":     len(customers),
	})
}

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"templates": h.templates.All(),
		"default":   whatsapp.DefaultTemplate,
	})
}

func (h *Handlers) whatsappEnabled(w http.ResponseWriter) bool {
	if h.whatsapp == nil {
		h.respondError(w, http.StatusServiceUnavailable, "whatsapp automation is disabled")
		return false
	}
	return true
}
