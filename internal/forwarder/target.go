package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/plantwatch/internal/observability/tracing"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.opentelemetry.io/otel/propagation"
)

const ingestPath = "/v1/ingest"

// Target delivers one batch and returns the supervisor's answer: the
// per-envelope outcome and the status changes the batch committed.
type Target interface {
	Forward(ctx context.Context, batch telemetry.Batch) (telemetry.BatchResponse, error)
}

// StatusError is a non-2xx answer from the supervisor.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supervisor responded %d: %s", e.Code, e.Body)
}

// Retryable reports whether another attempt could succeed. Client errors
// will not change on resend.
func (e *StatusError) Retryable() bool {
	return e.Code < 400 || e.Code >= 500
}

// HTTPTarget posts batches as JSON to the supervisor ingest endpoint.
type HTTPTarget struct {
	url    string
	client *http.Client
}

func NewHTTPTarget(baseURL string, client *http.Client) *HTTPTarget {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTarget{
		url:    strings.TrimRight(baseURL, "/") + ingestPath,
		client: client,
	}
}

func (t *HTTPTarget) Forward(ctx context.Context, batch telemetry.Batch) (telemetry.BatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return telemetry.BatchResponse{}, backoff.Permanent(fmt.Errorf("encode batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return telemetry.BatchResponse{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.client.Do(req)
	if err != nil {
		return telemetry.BatchResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if !statusErr.Retryable() {
			return telemetry.BatchResponse{}, backoff.Permanent(statusErr)
		}
		return telemetry.BatchResponse{}, statusErr
	}

	var out telemetry.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return telemetry.BatchResponse{}, fmt.Errorf("decode batch response: %w", err)
	}
	return out, nil
}
