package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"

	"github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
)

const (
	// MaxMetrics bounds the number of metric pairs accepted from one packet.
	MaxMetrics = 32
	// MaxPacketSize is the largest UDP payload the router reads.
	MaxPacketSize = 64 * 1024

	jsonPacketVersion = 1
	frameVersion      = 0x01
)

// DevicePolicy decides whether a device uid may be forwarded.
type DevicePolicy interface {
	Permits(deviceUID string) bool
}

type allowAll struct{}

func (allowAll) Permits(string) bool { return true }

// Decoder turns raw packets into envelopes. It holds no per-packet state.
type Decoder struct {
	policy  DevicePolicy
	metrics *metrics.PipelineMetrics
}

func New(policy DevicePolicy, m *metrics.PipelineMetrics) *Decoder {
	if policy == nil {
		policy = allowAll{}
	}
	return &Decoder{policy: policy, metrics: m}
}

// Decode parses one packet. Any failure is a *DecodeError.
func (d *Decoder) Decode(packet []byte) (telemetry.Envelope, error) {
	env, err := d.decode(packet)
	if err != nil {
		d.metrics.RecordDecodeFailure(string(ClassOf(err)))
		return telemetry.Envelope{}, err
	}
	d.metrics.RecordDecoded()
	return env, nil
}

func (d *Decoder) decode(packet []byte) (telemetry.Envelope, error) {
	if len(packet) == 0 {
		return telemetry.Envelope{}, truncated(io.ErrUnexpectedEOF)
	}
	if len(packet) > MaxPacketSize {
		return telemetry.Envelope{}, malformed("packet of %d bytes exceeds %d", len(packet), MaxPacketSize)
	}

	var (
		env telemetry.Envelope
		err error
	)
	switch packet[0] {
	case '{':
		env, err = decodeJSON(packet)
	case frameVersion:
		env, err = decodeFrame(packet[1:])
	default:
		return telemetry.Envelope{}, malformed("unknown packet format 0x%02x", packet[0])
	}
	if err != nil {
		return telemetry.Envelope{}, err
	}

	if err := validate(env); err != nil {
		return telemetry.Envelope{}, err
	}
	if !d.policy.Permits(env.DeviceUID) {
		return telemetry.Envelope{}, &DecodeError{Class: ClassUnknownDevice, Err: errors.New(env.DeviceUID)}
	}
	return env, nil
}

func validate(env telemetry.Envelope) error {
	if env.DeviceUID == "" {
		return malformed("device_uid is empty")
	}
	if len(env.Metrics) == 0 {
		return malformed("packet carries no metrics")
	}
	if len(env.Metrics) > MaxMetrics {
		return malformed("metric count %d exceeds %d", len(env.Metrics), MaxMetrics)
	}
	for name, value := range env.Metrics {
		if name == "" {
			return malformed("metric name is empty")
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return malformed("metric %s is not finite", name)
		}
	}
	return nil
}

// jsonPacket is the datagram emitted by the field firmware.
type jsonPacket struct {
	Version           uint8    `json:"version"`
	DeviceUID         string   `json:"device_uid"`
	PlantID           string   `json:"plant_id"`
	Seq               uint64   `json:"seq"`
	TimestampNs       uint64   `json:"timestamp_ns"`
	SoilMoisture      *float64 `json:"soil_moisture"`
	AmbientLightLux   *float64 `json:"ambient_light_lux"`
	AmbientHumidityRH *float64 `json:"ambient_humidity_rh"`
	AmbientTempC      *float64 `json:"ambient_temp_c"`
}

const (
	MetricSoilMoisture      = "soil_moisture"
	MetricAmbientLightLux   = "ambient_light_lux"
	MetricAmbientHumidityRH = "ambient_humidity_rh"
	MetricAmbientTempC      = "ambient_temp_c"
)

func decodeJSON(packet []byte) (telemetry.Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(packet))
	dec.DisallowUnknownFields()

	// Only the first value is read; trailing bytes are left unread.
	var p jsonPacket
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return telemetry.Envelope{}, truncated(err)
		}
		return telemetry.Envelope{}, malformed("json: %v", err)
	}
	if p.Version != jsonPacketVersion {
		return telemetry.Envelope{}, malformed("unsupported packet version %d", p.Version)
	}

	metrics := make(map[string]float64, 4)
	put := func(name string, v *float64) {
		if v != nil {
			metrics[name] = *v
		}
	}
	put(MetricSoilMoisture, p.SoilMoisture)
	put(MetricAmbientLightLux, p.AmbientLightLux)
	put(MetricAmbientHumidityRH, p.AmbientHumidityRH)
	put(MetricAmbientTempC, p.AmbientTempC)

	return telemetry.Envelope{
		DeviceUID:   p.DeviceUID,
		TimestampNs: p.TimestampNs,
		Metrics:     metrics,
	}, nil
}
