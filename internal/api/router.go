package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOption func(*routerConfig)

type routerConfig struct {
	metrics    http.Handler
	middleware []func(http.Handler) http.Handler
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) RouterOption {
	return func(c *routerConfig) { c.metrics = h }
}

func WithMiddleware(mw ...func(http.Handler) http.Handler) RouterOption {
	return func(c *routerConfig) { c.middleware = append(c.middleware, mw...) }
}

func Router(h *Handler, opts ...RouterOption) http.Handler {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cfg.middleware...)

	r.Get("/v1/health", h.Health)

	r.Route("/v1/leads", func(r chi.Router) {
		r.Post("/", h.ImportLead)
		r.Post("/claim", h.ClaimLead)
		r.Get("/{id}", h.GetLead)
		r.Get("/{id}/attempts", h.ListLeadAttempts)
		r.Post("/{id}/release", h.ReleaseLead)
		r.Post("/{id}/complete", h.CompleteLead)
	})

	r.Route("/v1/numbers", func(r chi.Router) {
		r.Post("/", h.AddNumber)
		r.Post("/select", h.SelectNumber)
		r.Post("/{id}/failure", h.ReportNumberFailure)
		r.Post("/{id}/active", h.SetNumberActive)
	})

	r.Post("/v1/attempts", h.StartAttempt)
	r.Post("/v1/carrier/status", h.CarrierStatus)

	r.Post("/v1/maintenance/{job}", h.RunMaintenance)

	r.Get("/v1/scheduler/status", h.SchedulerStatus)
	r.Post("/v1/scheduler/start", h.SchedulerStart)
	r.Post("/v1/scheduler/stop", h.SchedulerStop)

	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("leadline"))
	})

	return r
}
