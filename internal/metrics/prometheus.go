package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by client_golang.
type Prometheus struct {
	claims       *prometheus.CounterVec
	releases     *prometheus.CounterVec
	completions  *prometheus.CounterVec
	staleLocks   prometheus.Counter
	selections   *prometheus.CounterVec
	unavailable  prometheus.Counter
	failures     *prometheus.CounterVec
	maintenance  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers the collectors on reg, or on the default
// registerer when reg is nil.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "leadline"
	}

	p := &Prometheus{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "claims_total",
			Help:      "Lead claim requests by result.",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "releases_total",
			Help:      "Release requests by whether a lock was actually dropped.",
		}, []string{"released"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "completions_total",
			Help:      "Completed leads by outcome.",
		}, []string{"outcome"}),
		staleLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "stale_locks_released_total",
			Help:      "Locks released by the stale-lock sweep.",
		}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "selections_total",
			Help:      "Caller numbers handed out by ownership tier.",
		}, []string{"tier"}),
		unavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "unavailable_total",
			Help:      "Selections that found no eligible caller number.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "failures_total",
			Help:      "Carrier failure reports by class.",
		}, []string{"class"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Maintenance job runs by job and success.",
		}, []string{"job", "ok"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		p.claims, p.releases, p.completions, p.staleLocks,
		p.selections, p.unavailable, p.failures, p.maintenance,
		p.httpRequests, p.httpDuration,
	)
	return p
}

func (p *Prometheus) LeadClaimed(result string) {
	p.claims.WithLabelValues(result).Inc()
}

func (p *Prometheus) LeadReleased(released bool) {
	p.releases.WithLabelValues(strconv.FormatBool(released)).Inc()
}

func (p *Prometheus) LeadCompleted(outcome string) {
	p.completions.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) StaleLocksReleased(n int64) {
	p.staleLocks.Add(float64(n))
}

func (p *Prometheus) NumberSelected(tier string) {
	p.selections.WithLabelValues(tier).Inc()
}

func (p *Prometheus) NumberUnavailable() {
	p.unavailable.Inc()
}

func (p *Prometheus) NumberFailure(class string) {
	p.failures.WithLabelValues(class).Inc()
}

func (p *Prometheus) MaintenanceRun(job string, ok bool) {
	p.maintenance.WithLabelValues(job, strconv.FormatBool(ok)).Inc()
}
