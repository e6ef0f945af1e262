package ingestid

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestComputeIsDeterministic(t *testing.T) {
	a := telemetry.Envelope{
		DeviceUID:   "dev-1",
		TimestampNs: 1700000000000000000,
		Metrics:     map[string]float64{"soil_moisture": 41.5, "ambient_temp_c": 22.1},
	}
	b := telemetry.Envelope{
		DeviceUID:   "dev-1",
		TimestampNs: 1700000000000000000,
		Metrics:     map[string]float64{"ambient_temp_c": 22.1, "soil_moisture": 41.5},
	}

	assert.Equal(t, Compute(a), Compute(b))
	assert.Len(t, Compute(a), 64)
}

func TestComputeDistinguishesContent(t *testing.T) {
	base := telemetry.Envelope{
		DeviceUID:   "dev-1",
		TimestampNs: 42,
		Metrics:     map[string]float64{"soil_moisture": 41.5},
	}

	changedValue := base
	changedValue.Metrics = map[string]float64{"soil_moisture": 41.6}
	changedDevice := base
	changedDevice.DeviceUID = "dev-2"
	changedTime := base
	changedTime.TimestampNs = 43
	renamed := base
	renamed.Metrics = map[string]float64{"ambient_temp_c": 41.5}

	id := Compute(base)
	assert.NotEqual(t, id, Compute(changedValue))
	assert.NotEqual(t, id, Compute(changedDevice))
	assert.NotEqual(t, id, Compute(changedTime))
	assert.NotEqual(t, id, Compute(renamed))
}

func TestEnsureKeepsPrecomputedID(t *testing.T) {
	env := telemetry.Envelope{DeviceUID: "dev-1", TimestampNs: 1, Metrics: map[string]float64{"x": 1}}
	assert.Equal(t, Compute(env), Ensure(env).IngestID)

	env.IngestID = "given"
	assert.Equal(t, "given", Ensure(env).IngestID)
}

func TestContentHashIgnoresIdentity(t *testing.T) {
	m := map[string]float64{"soil_moisture": 10}
	assert.Equal(t, ContentHash(m), ContentHash(map[string]float64{"soil_moisture": 10}))
	assert.NotEqual(t, ContentHash(m), ContentHash(map[string]float64{"soil_moisture": 11}))
}

func TestComputeSeparatesEmbeddedNUL(t *testing.T) {
	var bits [8]byte
	binary.LittleEndian.PutUint64(bits[:], math.Float64bits(1))
	spliced := "a\x00" + string(bits[:]) + "b"

	split := telemetry.Envelope{DeviceUID: "dev-1", TimestampNs: 1, Metrics: map[string]float64{"a": 1, "b": 2}}
	joined := telemetry.Envelope{DeviceUID: "dev-1", TimestampNs: 1, Metrics: map[string]float64{spliced: 2}}
	assert.NotEqual(t, Compute(split), Compute(joined))
	assert.NotEqual(t, ContentHash(split.Metrics), ContentHash(joined.Metrics))
}
