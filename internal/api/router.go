package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/maltedev/revolico-scraper/internal/metrics"
)

type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Long-lived stream, kept outside the request timeout.
	r.Get("/api/events", h.StreamEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/download/results", h.DownloadResults)

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", h.GetStatus)
			r.Post("/start-scraping", h.StartScraping)
			r.Post("/stop-scraping", h.StopScraping)
			r.Get("/events/recent", h.RecentEvents)

			r.Route("/customers", func(r chi.Router) {
				r.Get("/", h.ListCustomers)
				r.Post("/clear", h.ClearCustomers)
				r.Get("/{id}", h.GetCustomer)
				r.Post("/{id}/contact", h.MarkContacted)
			})

			r.Get("/results", h.ListResults)
			r.Get("/proxies", h.ListProxies)

			r.Route("/whatsapp", func(r chi.Router) {
				r.Get("/accounts", h.ListAccounts)
				r.Post("/accounts", h.CreateAccount)
				r.Delete("/accounts/{id}", h.DeleteAccount)
				r.Post("/accounts/{id}/setup", h.SetupAccount)
				r.Get("/accounts/{id}/status", h.AccountStatus)
				r.Get("/accounts/{id}/qr", h.AccountQR)
				r.Post("/start-campaign", h.StartCampaign)
				r.Post("/stop", h.StopCampaign)
				r.Get("/uncontacted", h.ListUncontacted)
				r.Get("/templates", h.ListTemplates)
			})
		})
	})

	return r
}
