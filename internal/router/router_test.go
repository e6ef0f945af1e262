package router

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/plantwatch/internal/decoder"
	"github.com/smallbiznis/plantwatch/internal/ingestid"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

type chanSubmitter chan telemetry.Envelope

func (c chanSubmitter) Submit(env telemetry.Envelope) bool {
	select {
	case c <- env:
		return true
	default:
		return false
	}
}

func startRouter(t *testing.T) (*Router, chanSubmitter, context.CancelFunc) {
	t.Helper()
	conn, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	sub := make(chanSubmitter, 8)
	r := New(conn, decoder.New(nil, nil), sub, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	return r, sub, cancel
}

func send(t *testing.T, addr net.Addr, packet []byte) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(packet)
	require.NoError(t, err)
}

func next(t *testing.T, sub chanSubmitter) telemetry.Envelope {
	t.Helper()
	select {
	case env := <-sub:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope submitted")
		return telemetry.Envelope{}
	}
}

func TestRouterDecodesAndSubmits(t *testing.T) {
	r, sub, _ := startRouter(t)

	send(t, r.Addr(), []byte(`{"version":1,"device_uid":"dev-1","timestamp_ns":5,"soil_moisture":41.5}`))
	env := next(t, sub)
	assert.Equal(t, "dev-1", env.DeviceUID)
	assert.Equal(t, ingestid.Compute(env), env.IngestID)

	framed := telemetry.Envelope{
		DeviceUID:   "dev-2",
		TimestampNs: 9,
		Metrics:     map[string]float64{"ambient_temp_c": 21},
	}
	send(t, r.Addr(), decoder.EncodeFrame(framed))
	env = next(t, sub)
	assert.Equal(t, "dev-2", env.DeviceUID)
	assert.Equal(t, ingestid.Compute(framed), env.IngestID)
}

func TestRouterSkipsUndecodablePackets(t *testing.T) {
	r, sub, _ := startRouter(t)

	send(t, r.Addr(), []byte(`{"version":1,"device_uid":`))
	send(t, r.Addr(), []byte(`{"version":1,"device_uid":"dev-3","timestamp_ns":1,"soil_moisture":2}`))

	env := next(t, sub)
	assert.Equal(t, "dev-3", env.DeviceUID)
	select {
	case extra := <-sub:
		t.Fatalf("unexpected envelope %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterStopsOnCancel(t *testing.T) {
	r, _, cancel := startRouter(t)
	cancel()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}
}

func TestLifecycleStopClosesSocket(t *testing.T) {
	conn, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	r := New(conn, decoder.New(nil, nil), make(chanSubmitter, 1), zap.NewNop(), nil)

	app := fxtest.New(t, fx.Supply(r), fx.Supply(zap.NewNop()), fx.Invoke(runRouter))
	app.RequireStart()
	app.RequireStop()

	select {
	case <-r.Done():
	default:
		t.Fatal("router still running after stop")
	}
}

func TestMetricsEngineHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMetricsEngine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
