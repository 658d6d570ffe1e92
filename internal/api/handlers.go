package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/LeventeLantos/leadline/internal/dispatch"
	"github.com/LeventeLantos/leadline/internal/maintenance"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/rotation"
	"github.com/LeventeLantos/leadline/internal/scheduler"
	"github.com/LeventeLantos/leadline/internal/service"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	store       *repo.Store
	queue       *dispatch.Queue
	selector    *rotation.Selector
	dialer      *service.Dialer
	maintenance *maintenance.Runner
	sweeper     *scheduler.Scheduler
	// schedCtx parents the sweeper when it is started over HTTP, so it
	// still stops with the process.
	schedCtx context.Context
}

type Deps struct {
	Store       *repo.Store
	Queue       *dispatch.Queue
	Selector    *rotation.Selector
	Dialer      *service.Dialer
	Maintenance *maintenance.Runner
	Sweeper     *scheduler.Scheduler
	SchedCtx    context.Context
}

func NewHandler(d Deps) *Handler {
	if d.SchedCtx == nil {
		d.SchedCtx = context.Background()
	}
	return &Handler{
		store:       d.Store,
		queue:       d.Queue,
		selector:    d.Selector,
		dialer:      d.Dialer,
		maintenance: d.Maintenance,
		sweeper:     d.Sweeper,
		schedCtx:    d.SchedCtx,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.DB.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "database": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "database": "up"})
}

// leads

type claimRequest struct {
	WorkerID   string `json:"workerId"`
	LeadID     string `json:"leadId,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
}

func (h *Handler) ClaimLead(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	lead, err := h.queue.Claim(r.Context(), dispatch.ClaimRequest{
		WorkerID:   req.WorkerID,
		LeadID:     req.LeadID,
		CampaignID: req.CampaignID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

type releaseRequest struct {
	WorkerID string `json:"workerId"`
}

func (h *Handler) ReleaseLead(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	released, err := h.queue.Release(r.Context(), chi.URLParam(r, "id"), req.WorkerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

type completeRequest struct {
	WorkerID string `json:"workerId,omitempty"`
	Outcome  string `json:"outcome"`
	Notes    string `json:"notes,omitempty"`
}

// CompleteLead honours an Idempotency-Key header: repeating the request with
// the same key returns the lead without applying the outcome again.
func (h *Handler) CompleteLead(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lead, err := h.queue.Complete(r.Context(), dispatch.CompleteRequest{
		LeadID:   chi.URLParam(r, "id"),
		WorkerID: req.WorkerID,
		Outcome:  outcome,
		Notes:    req.Notes,
		Token:    r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h *Handler) ListLeadAttempts(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.Attempts.ListByLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type importLeadRequest struct {
	Phone        string `json:"phone"`
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	CampaignID   string `json:"campaignId,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (h *Handler) ImportLead(w http.ResponseWriter, r *http.Request) {
	var req importLeadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Phone == "" {
		writeError(w, r, fmt.Errorf("%w: phone", model.ErrMissingField))
		return
	}

	now := time.Now().UTC()
	lead := &model.Lead{
		ID:           uuid.NewString(),
		Phone:        req.Phone,
		Name:         req.Name,
		Organization: req.Organization,
		CampaignID:   req.CampaignID,
		Status:       model.Ready,
		Priority:     req.Priority,
		Notes:        req.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.Leads.Insert(r.Context(), lead); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// numbers

type selectRequest struct {
	TargetNumber     string `json:"targetNumber"`
	PreferredOwnerID string `json:"preferredOwnerId,omitempty"`
	Channel          string `json:"channel"`
	RegionTag        string `json:"regionTag,omitempty"`
}

type selectResponse struct {
	NumberID    string `json:"numberId"`
	PhoneNumber string `json:"phoneNumber"`
	Method      string `json:"method"`
	Tier        string `json:"tier"`
}

func (h *Handler) SelectNumber(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sel, err := h.selector.Select(r.Context(), rotation.SelectRequest{
		TargetNumber:     req.TargetNumber,
		PreferredOwnerID: req.PreferredOwnerID,
		Channel:          model.Channel(req.Channel),
		RegionTag:        req.RegionTag,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectResponse{
		NumberID:    sel.Entry.ID,
		PhoneNumber: sel.PhoneNumber,
		Method:      sel.Method,
		Tier:        sel.Tier,
	})
}

type failureRequest struct {
	FailureClass string `json:"failureClass"`
}

func (h *Handler) ReportNumberFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	class, err := model.ParseFailureClass(req.FailureClass)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cooled, err := h.selector.ReportFailure(r.Context(), chi.URLParam(r, "id"), class)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cooledDown": cooled})
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetNumberActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, fmt.Errorf("%w: active", model.ErrMissingField))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.selector.SetActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}

type addNumberRequest struct {
	PhoneNumber string  `json:"phoneNumber"`
	OwnerID     *string `json:"ownerId,omitempty"`
	RegionTag   string  `json:"regionTag,omitempty"`
	Type        string  `json:"type,omitempty"`
}

func (h *Handler) AddNumber(w http.ResponseWriter, r *http.Request) {
	var req addNumberRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, r, fmt.Errorf("%w: phoneNumber", model.ErrMissingField))
		return
	}

	n := &model.NumberPoolEntry{
		ID:          uuid.NewString(),
		PhoneNumber: req.PhoneNumber,
		OwnerID:     req.OwnerID,
		IsActive:    true,
		RegionTag:   req.RegionTag,
		Type:        req.Type,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.Numbers.Insert(r.Context(), n); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// attempts

type dialRequest struct {
	WorkerID  string `json:"workerId"`
	LeadID    string `json:"leadId"`
	Channel   string `json:"channel"`
	RegionTag string `json:"regionTag,omitempty"`
}

func (h *Handler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.dialer.Dial(r.Context(), service.DialRequest{
		WorkerID:  req.WorkerID,
		LeadID:    req.LeadID,
		Channel:   model.Channel(req.Channel),
		RegionTag: req.RegionTag,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) CarrierStatus(w http.ResponseWriter, r *http.Request) {
	var req service.StatusReport
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := h.dialer.HandleStatus(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// maintenance

var maintenanceJobs = map[string]string{
	"reset-daily":     maintenance.JobResetDaily,
	"clear-cooldowns": maintenance.JobClearCooldowns,
	"sweep-locks":     maintenance.JobSweepLocks,
}

func (h *Handler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	job, ok := maintenanceJobs[chi.URLParam(r, "job")]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "unknown maintenance job"})
		return
	}

	n, err := h.maintenance.Run(r.Context(), job)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "rows": n})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sweeper.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Start(h.schedCtx)
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
