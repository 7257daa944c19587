package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/customers/{id}", "404"))

	req := httptest.NewRequest(http.MethodGet, "/api/customers/42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/customers/{id}", "404"))
	assert.Equal(t, before+1, after)
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	var flushed bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
		flushed = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	assert.True(t, flushed)
	assert.True(t, w.Flushed)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(listingsTotal.WithLabelValues("processed"))
	RecordListing("processed")
	assert.Equal(t, before+1, testutil.ToFloat64(listingsTotal.WithLabelValues("processed")))

	SetLiveProxies(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(liveProxies))
}

func TestSetOutboxBacklog(t *testing.T) {
	SetOutboxBacklog(12, 2)
	assert.Equal(t, 12.0, testutil.ToFloat64(outboxBacklog.WithLabelValues("pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(outboxBacklog.WithLabelValues("dead_letter")))
}
