package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeventeLantos/leadline/internal/dispatch"
	"github.com/LeventeLantos/leadline/internal/maintenance"
	"github.com/LeventeLantos/leadline/internal/metrics"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/repo/repotest"
	"github.com/LeventeLantos/leadline/internal/rotation"
	"github.com/LeventeLantos/leadline/internal/scheduler"
	"github.com/LeventeLantos/leadline/internal/service"
)

type testEnv struct {
	store *repo.Store
	sched *scheduler.Scheduler
	mux   http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	s := repotest.NewStore(t)
	reg := prometheus.NewRegistry()
	prom := metrics.NewPrometheus(reg, "leadline")

	q := dispatch.NewQueue(s.Leads, s.Attempts, dispatch.Options{Metrics: prom})
	sel := rotation.NewSelector(s.Numbers, rotation.DefaultPolicy(), rotation.WithMetrics(prom))

	// Long interval so only the immediate run happens.
	sched, err := scheduler.New("sweep_locks", time.Hour, func(ctx context.Context) error {
		_, err := q.SweepStale(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	h := NewHandler(Deps{
		Store:       s,
		Queue:       q,
		Selector:    sel,
		Dialer:      service.NewDialer(s.Leads, s.Attempts, sel, nil),
		Maintenance: maintenance.NewRunner(s.Numbers, q, prom),
		Sweeper:     sched,
	})
	mux := Router(h,
		WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		WithMiddleware(prom.Middleware),
	)
	return &testEnv{store: s, sched: sched, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%q", want, rr.Code, rr.Body.String())
	}
}

func expectErrorCode(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	body := decodeJSON(t, rr)
	if body["error"] != want {
		t.Fatalf("expected error %q, got %v", want, body)
	}
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/v1/health", nil)
	expectStatus(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestLeadLifecycle(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodPost, "/v1/leads", map[string]any{"phone": "+15550111", "name": "Ada"})
	expectStatus(t, rr, http.StatusCreated)
	leadID, _ := decodeJSON(t, rr)["id"].(string)
	if leadID == "" {
		t.Fatalf("expected created lead id")
	}

	rr = env.do(t, http.MethodPost, "/v1/leads/claim", map[string]any{"workerId": "rep-1"})
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["id"] != leadID || body["status"] != "LOCKED" || body["lockedBy"] != "rep-1" {
		t.Fatalf("unexpected claimed lead %v", body)
	}

	// nothing else is eligible
	rr = env.do(t, http.MethodPost, "/v1/leads/claim", map[string]any{"workerId": "rep-2"})
	expectStatus(t, rr, http.StatusNotFound)
	expectErrorCode(t, rr, "no_lead_available")

	// forced claim of a held lead conflicts
	rr = env.do(t, http.MethodPost, "/v1/leads/claim", map[string]any{"workerId": "rep-2", "leadId": leadID})
	expectStatus(t, rr, http.StatusConflict)
	expectErrorCode(t, rr, "lock_held")

	rr = env.do(t, http.MethodPost, "/v1/leads/"+leadID+"/complete", map[string]any{
		"workerId": "rep-1", "outcome": "callback", "notes": "call after lunch",
	})
	expectStatus(t, rr, http.StatusOK)
	body = decodeJSON(t, rr)
	if body["status"] != "CALLBACK" || body["attempts"] != float64(1) {
		t.Fatalf("unexpected completed lead %v", body)
	}
	if _, ok := body["nextCallAt"]; !ok {
		t.Fatalf("expected nextCallAt on callback, got %v", body)
	}

	rr = env.do(t, http.MethodGet, "/v1/leads/"+leadID, nil)
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["notes"] != "call after lunch" {
		t.Fatalf("expected notes persisted")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	env := newTestServer(t)
	lead := repotest.SeedLead(t, env.store, model.Lead{})

	rr := env.do(t, http.MethodPost, "/v1/leads/claim", map[string]any{"workerId": "rep-1"})
	expectStatus(t, rr, http.StatusOK)

	for i, want := range []bool{true, false} {
		rr = env.do(t, http.MethodPost, "/v1/leads/"+lead.ID+"/release", map[string]any{"workerId": "rep-1"})
		expectStatus(t, rr, http.StatusOK)
		if got := decodeJSON(t, rr)["released"]; got != want {
			t.Fatalf("call %d: expected released=%v, got %v", i, want, got)
		}
	}
}

func TestCompleteErrors(t *testing.T) {
	env := newTestServer(t)
	done := repotest.SeedLead(t, env.store, model.Lead{Status: model.Done})

	rr := env.do(t, http.MethodPost, "/v1/leads/"+done.ID+"/complete", map[string]any{"outcome": "maybe"})
	expectStatus(t, rr, http.StatusBadRequest)
	expectErrorCode(t, rr, "invalid_request")

	rr = env.do(t, http.MethodPost, "/v1/leads/"+done.ID+"/complete", map[string]any{"outcome": "interested"})
	expectStatus(t, rr, http.StatusConflict)
	expectErrorCode(t, rr, "terminal_state")

	rr = env.do(t, http.MethodPost, "/v1/leads/missing/complete", map[string]any{"outcome": "interested"})
	expectStatus(t, rr, http.StatusNotFound)
	expectErrorCode(t, rr, "not_found")

	req := httptest.NewRequest(http.MethodPost, "/v1/leads/claim", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	env.mux.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestCompleteWithIdempotencyKey(t *testing.T) {
	env := newTestServer(t)
	lead := repotest.SeedLead(t, env.store, model.Lead{})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/leads/"+lead.ID+"/complete",
			strings.NewReader(`{"outcome":"callback"}`))
		req.Header.Set("Idempotency-Key", "complete-1")
		rr := httptest.NewRecorder()
		env.mux.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		rr := post()
		expectStatus(t, rr, http.StatusOK)
		if got := decodeJSON(t, rr)["attempts"]; got != float64(1) {
			t.Fatalf("request %d: expected attempts 1, got %v", i+1, got)
		}
	}
}

func TestNumberEndpoints(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodPost, "/v1/numbers/select", map[string]any{"targetNumber": "+15550111", "channel": "CALL"})
	expectStatus(t, rr, http.StatusNotFound)
	expectErrorCode(t, rr, "no_number_available")

	owner := "U1"
	n1 := repotest.SeedNumber(t, env.store, model.NumberPoolEntry{IsActive: true, OwnerID: &owner})
	n2 := repotest.SeedNumber(t, env.store, model.NumberPoolEntry{IsActive: true})

	rr = env.do(t, http.MethodPost, "/v1/numbers/select", map[string]any{
		"targetNumber": "+15550111", "preferredOwnerId": "U1", "channel": "SMS",
	})
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["numberId"] != n1.ID || body["phoneNumber"] != n1.PhoneNumber || body["method"] != "sms" {
		t.Fatalf("unexpected selection %v", body)
	}

	rr = env.do(t, http.MethodPost, "/v1/numbers/"+n1.ID+"/active", map[string]any{"active": false})
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodPost, "/v1/numbers/select", map[string]any{
		"targetNumber": "+15550111", "preferredOwnerId": "U1", "channel": "CALL",
	})
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["numberId"] != n2.ID {
		t.Fatalf("expected fallback to shared number")
	}

	rr = env.do(t, http.MethodPost, "/v1/numbers/"+n2.ID+"/failure", map[string]any{"failureClass": "throttled"})
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["cooledDown"] != true {
		t.Fatalf("expected throttling to cool the number down")
	}

	rr = env.do(t, http.MethodPost, "/v1/numbers/"+n2.ID+"/failure", map[string]any{"failureClass": "exploded"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, http.MethodPost, "/v1/numbers/"+n2.ID+"/active", map[string]any{})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, http.MethodPost, "/v1/numbers", map[string]any{"phoneNumber": "+15559999", "regionTag": "us-east"})
	expectStatus(t, rr, http.StatusCreated)
	if decodeJSON(t, rr)["isActive"] != true {
		t.Fatalf("expected new numbers to start active")
	}
}

func TestAttemptAndCarrierStatus(t *testing.T) {
	env := newTestServer(t)
	worker := "rep-1"
	now := time.Now().UTC()
	lead := repotest.SeedLead(t, env.store, model.Lead{Status: model.Locked, LockedBy: &worker, LockedAt: &now})
	repotest.SeedNumber(t, env.store, model.NumberPoolEntry{IsActive: true})

	rr := env.do(t, http.MethodPost, "/v1/attempts", map[string]any{"workerId": worker, "leadId": lead.ID, "channel": "CALL"})
	expectStatus(t, rr, http.StatusCreated)
	attempt, _ := decodeJSON(t, rr)["attempt"].(map[string]any)
	attemptID, _ := attempt["id"].(string)
	if attemptID == "" {
		t.Fatalf("expected attempt id, got %v", attempt)
	}

	rr = env.do(t, http.MethodPost, "/v1/carrier/status", map[string]any{"clientRef": attemptID, "ref": "CA1", "status": "completed"})
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["status"] != "completed" {
		t.Fatalf("expected completed attempt")
	}

	rr = env.do(t, http.MethodGet, "/v1/leads/"+lead.ID+"/attempts", nil)
	expectStatus(t, rr, http.StatusOK)
	if items, _ := decodeJSON(t, rr)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one attempt, got %v", items)
	}

	rr = env.do(t, http.MethodPost, "/v1/attempts", map[string]any{"workerId": "rep-2", "leadId": lead.ID, "channel": "CALL"})
	expectStatus(t, rr, http.StatusConflict)
}

func TestMaintenanceEndpoints(t *testing.T) {
	env := newTestServer(t)
	repotest.SeedNumber(t, env.store, model.NumberPoolEntry{IsActive: true, DailyCount: 9})

	rr := env.do(t, http.MethodPost, "/v1/maintenance/reset-daily", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["job"] != maintenance.JobResetDaily || body["rows"] != float64(1) {
		t.Fatalf("unexpected maintenance result %v", body)
	}

	for _, job := range []string{"clear-cooldowns", "sweep-locks"} {
		rr = env.do(t, http.MethodPost, "/v1/maintenance/"+job, nil)
		expectStatus(t, rr, http.StatusOK)
	}

	rr = env.do(t, http.MethodPost, "/v1/maintenance/defrag", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestSchedulerEndpoints(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/v1/scheduler/status", nil)
	expectStatus(t, rr, http.StatusOK)
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || running {
		t.Fatalf("expected running=false initially")
	}

	rr = env.do(t, http.MethodPost, "/v1/scheduler/start", nil)
	expectStatus(t, rr, http.StatusOK)
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || !running {
		t.Fatalf("expected running=true after start")
	}

	rr = env.do(t, http.MethodPost, "/v1/scheduler/stop", nil)
	expectStatus(t, rr, http.StatusOK)
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || running {
		t.Fatalf("expected running=false after stop")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)

	env.do(t, http.MethodPost, "/v1/leads/claim", map[string]any{"workerId": "rep-1"})

	rr := env.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rr, http.StatusOK)

	out := rr.Body.String()
	if !strings.Contains(out, `leadline_dispatch_claims_total{result="empty"} 1`) {
		t.Fatalf("expected claim counter in metrics output")
	}
	if !strings.Contains(out, `route="/v1/leads/claim"`) {
		t.Fatalf("expected route-labelled http metrics")
	}
}

func TestRouterRoot(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/", nil)
	expectStatus(t, rr, http.StatusOK)

	if got := strings.TrimSpace(rr.Body.String()); got != "leadline" {
		t.Fatalf("expected body %q, got %q", "leadline", got)
	}
}
