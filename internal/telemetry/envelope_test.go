package telemetry

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidate(t *testing.T) {
	valid := Envelope{
		DeviceUID:   "dev-1",
		TimestampNs: 1_700_000_000_000_000_000,
		Metrics:     map[string]float64{"soil_moisture": 42.5},
	}

	tests := []struct {
		name    string
		mutate  func(e *Envelope)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *Envelope) {}},
		{name: "missing device", mutate: func(e *Envelope) { e.DeviceUID = "" }, wantErr: true},
		{name: "no metrics", mutate: func(e *Envelope) { e.Metrics = nil }, wantErr: true},
		{name: "nan metric", mutate: func(e *Envelope) { e.Metrics = map[string]float64{"x": math.NaN()} }, wantErr: true},
		{name: "infinite metric", mutate: func(e *Envelope) { e.Metrics = map[string]float64{"x": math.Inf(-1)} }, wantErr: true},
		{name: "max ingest id", mutate: func(e *Envelope) { e.IngestID = strings.Repeat("a", MaxIngestIDLength) }},
		{name: "ingest id too long", mutate: func(e *Envelope) { e.IngestID = strings.Repeat("a", MaxIngestIDLength+1) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid
			env.Metrics = map[string]float64{"soil_moisture": 42.5}
			tt.mutate(&env)
			err := env.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEnvelopeTime(t *testing.T) {
	env := Envelope{TimestampNs: 1_500}
	assert.Equal(t, time.Unix(0, 1_500).UTC(), env.Time())
}

func TestDispositionJSONOmitsEmptyReason(t *testing.T) {
	raw, err := json.Marshal(Accepted("abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ingest_id":"abc","status":"accepted"}`, string(raw))

	raw, err = json.Marshal(Rejected("abc", "unknown_device"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ingest_id":"abc","status":"rejected","reason":"unknown_device"}`, string(raw))
}
