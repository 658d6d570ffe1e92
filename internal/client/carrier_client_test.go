package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

func TestCarrierClient_Place_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method      string
		Path        string
		ContentType string
		Body        []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.ContentType = r.Header.Get("Content-Type")

		b, _ := ioReadAll(r)
		captured.Body = b

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"queued","ref":"CA123"}`))
	}))
	defer srv.Close()

	c := NewCarrierClient(srv.URL+"/", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ref, err := c.Place(ctx, "+15550001", "+15550199", model.ChannelSMS, "att-1")
	if err != nil {
		t.Fatalf("Place() error: %v", err)
	}
	if ref != "CA123" {
		t.Fatalf("expected ref %q, got %q", "CA123", ref)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.Path != "/sms" {
		t.Fatalf("expected path /sms, got %q", captured.Path)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}

	var req placeRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.From != "+15550001" || req.To != "+15550199" {
		t.Fatalf("unexpected from/to: %+v", req)
	}
	if req.Method != "sms" || req.Ref != "att-1" {
		t.Fatalf("unexpected method/ref: %+v", req)
	}
}

func TestCarrierClient_Place_ClassifiesRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   model.FailureClass
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", model.FailureThrottled},
		{"forbidden", http.StatusForbidden, "", model.FailureBlocked},
		{"explicit code wins", http.StatusBadRequest, `{"code":"blocked"}`, model.FailureBlocked},
		{"bad recipient", http.StatusNotFound, `{"code":"no_such_number"}`, model.FailureUnreachable},
		{"server error", http.StatusBadGateway, "", model.FailureTransient},
		{"wrong success code", http.StatusOK, "ok", model.FailureTransient},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewCarrierClient(srv.URL, time.Second).Place(context.Background(), "+1", "+2", model.ChannelCall, "")
			if err == nil {
				t.Fatalf("expected error, got nil")
			}

			var ce *CarrierError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CarrierError, got %T: %v", err, err)
			}
			if ce.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, ce.StatusCode)
			}
			if got := ClassOf(err); got != tc.want {
				t.Fatalf("expected class %s, got %s", tc.want, got)
			}
			if tc.body != "" && !strings.Contains(err.Error(), tc.body) {
				t.Fatalf("expected error to include body, got: %v", err)
			}
		})
	}
}

func TestCarrierClient_Place_InvalidJSON_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("THIS IS NOT JSON"))
	}))
	defer srv.Close()

	_, err := NewCarrierClient(srv.URL, 0).Place(context.Background(), "+1", "+2", model.ChannelCall, "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "failed to decode json") {
		t.Fatalf("expected decode error, got: %v", err)
	}
	if !strings.Contains(msg, `body="THIS IS NOT JSON"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
	if ClassOf(err) != model.FailureTransient {
		t.Fatalf("expected unclassified error to count as transient")
	}
}

func TestCarrierClient_Place_MissingRef_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	_, err := NewCarrierClient(srv.URL, time.Second).Place(context.Background(), "+1", "+2", model.ChannelCall, "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "missing ref") {
		t.Fatalf("expected missing ref error, got: %v", err)
	}
}

func TestCarrierClient_Place_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ref":"abc"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewCarrierClient(srv.URL, time.Second).Place(ctx, "+1", "+2", model.ChannelCall, "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
