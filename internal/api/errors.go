package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/LeventeLantos/leadline/internal/client"
	"github.com/LeventeLantos/leadline/internal/dispatch"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/rotation"
)

// errInvalidBody marks a request body that could not be decoded.
var errInvalidBody = errors.New("invalid request body")

type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	FailureClass string `json:"failureClass,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. The two exhaustion
// results are 404s with distinct codes so clients can tell them apart.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)

	body := errorBody{Error: code, Message: err.Error()}
	var ce *client.CarrierError
	if errors.As(err, &ce) {
		body.FailureClass = string(ce.Class)
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func classifyError(err error) (int, string) {
	var ce *client.CarrierError
	switch {
	case errors.Is(err, dispatch.ErrNoLead):
		return http.StatusNotFound, "no_lead_available"
	case errors.Is(err, rotation.ErrNoNumber):
		return http.StatusNotFound, "no_number_available"
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repo.ErrLockHeld):
		return http.StatusConflict, "lock_held"
	case errors.Is(err, repo.ErrTerminal):
		return http.StatusConflict, "terminal_state"
	case errors.Is(err, errInvalidBody),
		errors.Is(err, model.ErrMissingField),
		errors.Is(err, model.ErrInvalidOutcome),
		errors.Is(err, model.ErrInvalidChannel),
		errors.Is(err, model.ErrInvalidFailureClass),
		errors.Is(err, model.ErrInvalidAttemptStatus):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &ce):
		return http.StatusBadGateway, "carrier_rejected"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
