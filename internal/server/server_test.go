package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/plantwatch/internal/config"
	"github.com/smallbiznis/plantwatch/internal/observability"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"github.com/smallbiznis/plantwatch/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeIngestService struct {
	batches []telemetry.Batch
	changes []telemetry.StatusChange
	err     error
}

func (f *fakeIngestService) IngestBatch(ctx context.Context, batch telemetry.Batch) (telemetry.BatchResponse, error) {
	_ = ctx
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return telemetry.BatchResponse{}, f.err
	}
	out := make([]telemetry.Disposition, 0, len(batch.Envelopes))
	for i, env := range batch.Envelopes {
		if i%2 == 1 {
			out = append(out, telemetry.Duplicate(env.IngestID))
			continue
		}
		out = append(out, telemetry.Accepted(env.IngestID))
	}
	return telemetry.BatchResponse{BatchID: batch.ID, Dispositions: out, StatusChanges: f.changes}, nil
}

type fakeStateService struct {
	states   map[snowflake.ID]*plantstatedomain.PlantCurrentState
	requests []plantstatedomain.ListTickerRequest
	ticker   plantstatedomain.ListTickerResponse
	err      error
}

func (f *fakeStateService) Apply(ctx context.Context, tx *gorm.DB, req plantstatedomain.ApplyRequest) (plantstatedomain.ApplyResult, error) {
	return plantstatedomain.ApplyResult{}, errors.New("not used")
}

func (f *fakeStateService) GetState(ctx context.Context, plantID snowflake.ID) (*plantstatedomain.PlantCurrentState, error) {
	state, ok := f.states[plantID]
	if !ok {
		return nil, plantstatedomain.ErrStateNotFound
	}
	return state, nil
}

func (f *fakeStateService) ListTicker(ctx context.Context, req plantstatedomain.ListTickerRequest) (plantstatedomain.ListTickerResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return plantstatedomain.ListTickerResponse{}, f.err
	}
	return f.ticker, nil
}

type testServer struct {
	engine *gin.Engine
	ingest *fakeIngestService
	state  *fakeStateService
	hub    *liveevents.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		engine: NewEngine(observability.Config{}, nil),
		ingest: &fakeIngestService{},
		state:  &fakeStateService{states: map[snowflake.ID]*plantstatedomain.PlantCurrentState{}},
		hub:    liveevents.NewHub(),
	}
	NewServer(ServerParams{
		Gin:        ts.engine,
		Cfg:        config.Config{},
		Log:        zap.NewNop(),
		IngestSvc:  ts.ingest,
		StateSvc:   ts.state,
		LiveEvents: ts.hub,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestIngestBatchReturnsDispositionsInOrder(t *testing.T) {
	ts := newTestServer(t)
	change := telemetry.StatusChange{
		Type:         telemetry.StatusChangeType,
		PlantID:      "42",
		PrevSeverity: "NORMAL",
		NewSeverity:  "WARN",
		OccurredAtNs: 1,
	}
	ts.ingest.changes = []telemetry.StatusChange{change}

	body := `{"batch_id":"01J0","seq":3,"envelopes":[
		{"device_uid":"dev-1","timestamp_ns":1,"metrics":{"soil_moisture":40},"ingest_id":"a"},
		{"device_uid":"dev-1","timestamp_ns":2,"metrics":{"soil_moisture":41},"ingest_id":"b"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp telemetry.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "01J0", resp.BatchID)
	assert.Equal(t, []telemetry.Disposition{
		telemetry.Accepted("a"),
		telemetry.Duplicate("b"),
	}, resp.Dispositions)
	assert.Equal(t, []telemetry.StatusChange{change}, resp.StatusChanges)

	require.Len(t, ts.ingest.batches, 1)
	assert.Equal(t, uint64(3), ts.ingest.batches[0].Seq)
	assert.Equal(t, 40.0, ts.ingest.batches[0].Envelopes[0].Metrics["soil_moisture"])
}

func TestIngestBatchAlwaysListsStatusChanges(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"batch_id":"e","envelopes":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"batch_id":"e","dispositions":[],"status_changes":[]}`, rec.Body.String())
}

func TestIngestBatchRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"batch_id":`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Empty(t, ts.ingest.batches)
}

func TestIngestBatchRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.Repeat([]byte("x"), maxIngestBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec).Type)
}

func TestIngestBatchServiceFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.ingest.err = errors.New("boom")

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"batch_id":"x","envelopes":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Type)
}

func TestGetPlantState(t *testing.T) {
	ts := newTestServer(t)
	ts.state.states[snowflake.ID(42)] = &plantstatedomain.PlantCurrentState{
		PlantID:  42,
		Severity: "WARN",
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/plants/42/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data plantstatedomain.PlantCurrentState `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, snowflake.ID(42), resp.Data.PlantID)
	assert.Equal(t, "WARN", resp.Data.Severity)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/plants/43/state", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/plants/fern/state", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_plant", payload.Errors[0].Code)
}

func TestListPlantTicker(t *testing.T) {
	ts := newTestServer(t)
	ts.state.ticker = plantstatedomain.ListTickerResponse{
		PageInfo: pagination.PageInfo{NextPageToken: "next", HasMore: true},
		Events: []plantstatedomain.TickerEvent{
			{ID: 9, PlantID: 42, Severity: "CRITICAL", PrevSeverity: "WARN", OccurredAt: time.Unix(10, 0).UTC()},
		},
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/plants/42/ticker?limit=5&page_token=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.state.requests, 1)
	req := ts.state.requests[0]
	assert.Equal(t, snowflake.ID(42), req.PlantID)
	assert.Equal(t, 5, req.PageSize)
	assert.Equal(t, "abc", req.PageToken)

	var resp struct {
		Data     []plantstatedomain.TickerEvent `json:"data"`
		PageInfo pagination.PageInfo            `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "CRITICAL", resp.Data[0].Severity)
	assert.True(t, resp.PageInfo.HasMore)
	assert.Equal(t, "next", resp.PageInfo.NextPageToken)
}

func TestListPlantTickerInvalidInput(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/plants/42/ticker?limit=many", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.state.requests)

	ts.state.err = pagination.ErrInvalidPageToken
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/plants/42/ticker?page_token=%25%25", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_page_token", payload.Errors[0].Code)
	assert.Equal(t, "page_token", payload.Errors[0].Field)
}

func TestStreamPlantLiveEventsReplaysBacklog(t *testing.T) {
	ts := newTestServer(t)
	ts.hub.Publish("42", liveevents.LiveEvent{
		EventID:      "7",
		PlantID:      "42",
		Kind:         plantstatedomain.KindSeverityChange,
		Severity:     "WARN",
		PrevSeverity: "NORMAL",
		Message:      "Plant Fern severity NORMAL -> WARN (soil_moisture=15)",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/plants/42/stream", nil).WithContext(ctx)
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "retry: 2000\n\n"))
	assert.Contains(t, body, "id: 7\n")
	assert.Contains(t, body, "event: "+plantstatedomain.KindSeverityChange+"\n")
	assert.Contains(t, body, `"severity":"WARN"`)
	assert.Zero(t, ts.hub.Subscribers("42"))
}

func TestUnknownRouteAndHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
