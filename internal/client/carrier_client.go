package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

const DefaultTimeout = 10 * time.Second

// CarrierError is a failed carrier request with its failure class already
// decided.
type CarrierError struct {
	StatusCode int
	Class      model.FailureClass
	Body       string
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("carrier rejected request: status=%d class=%s body=%q", e.StatusCode, e.Class, e.Body)
}

// ClassOf returns the failure class of err. Errors that never reached a
// classified carrier response count as transient.
func ClassOf(err error) model.FailureClass {
	var ce *CarrierError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return model.FailureTransient
}

type CarrierClient struct {
	url    string
	client *http.Client
}

func NewCarrierClient(url string, timeout time.Duration) *CarrierClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CarrierClient{
		url: strings.TrimRight(url, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type placeRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Method string `json:"method"`
	Ref    string `json:"clientRef,omitempty"`
}

type placeResponse struct {
	Status string `json:"status"`
	Ref    string `json:"ref"`
}

type errorResponse struct {
	Code string `json:"code"`
}

// Place asks the carrier to call or text to from the caller identity from.
// The returned reference identifies the attempt in later status reports.
func (c *CarrierClient) Place(ctx context.Context, from, to string, channel model.Channel, clientRef string) (string, error) {
	method := channel.Method()
	reqBody, err := json.Marshal(placeRequest{
		From:   from,
		To:     to,
		Method: method,
		Ref:    clientRef,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+method, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return "", &CarrierError{
			StatusCode: resp.StatusCode,
			Class:      classify(resp.StatusCode, body),
			Body:       string(body),
		}
	}

	var pr placeResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if pr.Ref == "" {
		return "", fmt.Errorf("missing ref in response body=%q", string(body))
	}

	return pr.Ref, nil
}

// classify maps a rejected response onto a failure class. An explicit code
// in the body wins over the status code.
func classify(status int, body []byte) model.FailureClass {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Code != "" {
		if fc, err := model.ParseFailureClass(er.Code); err == nil {
			return fc
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return model.FailureThrottled
	case status == http.StatusForbidden:
		return model.FailureBlocked
	case status == http.StatusNotFound, status == http.StatusUnprocessableEntity, status == http.StatusBadRequest:
		return model.FailureUnreachable
	default:
		return model.FailureTransient
	}
}
