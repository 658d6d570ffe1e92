package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.LeadClaimed("claimed")
	p.LeadClaimed("claimed")
	p.LeadClaimed("empty")
	p.LeadCompleted("booked_demo")
	p.StaleLocksReleased(3)
	p.NumberSelected("owner")
	p.NumberUnavailable()
	p.NumberFailure("throttled")
	p.MaintenanceRun("reset_daily", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.claims.WithLabelValues("claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.claims.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.completions.WithLabelValues("booked_demo")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.staleLocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.selections.WithLabelValues("owner")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.unavailable))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.failures.WithLabelValues("throttled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.maintenance.WithLabelValues("reset_daily", "true")))
}

func TestPrometheus_MiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	r := chi.NewRouter()
	r.Use(p.Middleware)
	r.Post("/v1/leads/{id}/release", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/leads/abc/release", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.httpRequests.WithLabelValues(http.MethodPost, "/v1/leads/{id}/release", "202")))
}
