package decoder

import (
	"fmt"
	"testing"

	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowlist map[string]struct{}

func (a allowlist) Permits(uid string) bool {
	_, ok := a[uid]
	return ok
}

func TestDecodeJSONPacket(t *testing.T) {
	d := New(nil, nil)
	packet := []byte(`{"version":1,"device_uid":"dev-1","plant_id":"p-1","seq":7,"timestamp_ns":1700000000000000000,"soil_moisture":41.5,"ambient_temp_c":22}`)

	env, err := d.Decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", env.DeviceUID)
	assert.Equal(t, uint64(1700000000000000000), env.TimestampNs)
	assert.Equal(t, map[string]float64{"soil_moisture": 41.5, "ambient_temp_c": 22}, env.Metrics)
}

func TestDecodeJSONIgnoresTrailingGarbage(t *testing.T) {
	d := New(nil, nil)
	packet := []byte(`{"version":1,"device_uid":"dev-1","timestamp_ns":5,"soil_moisture":1}` + "\x00\xff garbage {")

	env, err := d.Decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", env.DeviceUID)
	assert.Equal(t, map[string]float64{"soil_moisture": 1}, env.Metrics)
}

func TestDecodeJSONFailures(t *testing.T) {
	d := New(nil, nil)
	cases := []struct {
		name   string
		packet string
		class  Class
	}{
		{name: "empty", packet: "", class: ClassTruncated},
		{name: "cut mid object", packet: `{"version":1,"device_uid":"de`, class: ClassTruncated},
		{name: "no metrics", packet: `{"version":1,"device_uid":"dev-1","timestamp_ns":5}`, class: ClassMalformed},
		{name: "missing device", packet: `{"version":1,"timestamp_ns":5,"soil_moisture":1}`, class: ClassMalformed},
		{name: "bad version", packet: `{"version":2,"device_uid":"dev-1","soil_moisture":1}`, class: ClassMalformed},
		{name: "unknown field", packet: `{"version":1,"device_uid":"dev-1","pressure":1}`, class: ClassMalformed},
		{name: "wrong type", packet: `{"version":1,"device_uid":"dev-1","soil_moisture":"wet"}`, class: ClassMalformed},
		{name: "unknown format", packet: "\x07abc", class: ClassMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tc.packet))
			require.Error(t, err)
			assert.Equal(t, tc.class, ClassOf(err))
		})
	}
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	d := New(nil, nil)
	want := telemetry.Envelope{
		DeviceUID:   "dev-9",
		TimestampNs: 99,
		Metrics:     map[string]float64{"soil_moisture": 12.25, "ambient_light_lux": 800},
	}

	got, err := d.Decode(EncodeFrame(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeFrameIgnoresTrailingBytes(t *testing.T) {
	d := New(nil, nil)
	env := telemetry.Envelope{DeviceUID: "dev-1", TimestampNs: 1, Metrics: map[string]float64{"a": 1}}
	packet := append(EncodeFrame(env), 0x1a, 0xff, 0xff, 0x00)

	got, err := d.Decode(packet)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestDecodeFrameTruncated(t *testing.T) {
	d := New(nil, nil)
	env := telemetry.Envelope{DeviceUID: "dev-1", TimestampNs: 1, Metrics: map[string]float64{"a": 1}}
	frame := EncodeFrame(env)

	_, err := d.Decode(frame[:len(frame)-3])
	assert.Equal(t, ClassTruncated, ClassOf(err))

	_, err = d.Decode([]byte{frameVersion})
	assert.Equal(t, ClassTruncated, ClassOf(err))
}

func TestDecodeFrameRejectsTooManyMetrics(t *testing.T) {
	d := New(nil, nil)
	metrics := make(map[string]float64, MaxMetrics+1)
	for i := 0; i <= MaxMetrics; i++ {
		metrics[fmt.Sprintf("m%02d", i)] = float64(i)
	}

	_, err := d.Decode(EncodeFrame(telemetry.Envelope{DeviceUID: "dev-1", Metrics: metrics}))
	assert.Equal(t, ClassMalformed, ClassOf(err))
}

func TestDecodeAppliesDevicePolicy(t *testing.T) {
	d := New(allowlist{"dev-1": {}}, nil)

	_, err := d.Decode(EncodeFrame(telemetry.Envelope{DeviceUID: "dev-1", Metrics: map[string]float64{"a": 1}}))
	assert.NoError(t, err)

	_, err = d.Decode(EncodeFrame(telemetry.Envelope{DeviceUID: "dev-2", Metrics: map[string]float64{"a": 1}}))
	assert.Equal(t, ClassUnknownDevice, ClassOf(err))
}
