package decoder

import (
	"errors"
	"io"
	"math"
	"sort"

	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"google.golang.org/protobuf/encoding/protowire"
)

// Binary frame layout:
//
//	0x01 | uvarint(len) | message[len] | ignored trailing bytes
//
// message: 1 device_uid (string), 2 timestamp_ns (fixed64),
// 3 metric (repeated message: 1 name string, 2 value double).
const (
	fieldDeviceUID   protowire.Number = 1
	fieldTimestampNs protowire.Number = 2
	fieldMetric      protowire.Number = 3

	fieldMetricName  protowire.Number = 1
	fieldMetricValue protowire.Number = 2
)

func decodeFrame(b []byte) (telemetry.Envelope, error) {
	size, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return telemetry.Envelope{}, frameError(protowire.ParseError(n))
	}
	b = b[n:]
	if uint64(len(b)) < size {
		return telemetry.Envelope{}, truncated(io.ErrUnexpectedEOF)
	}
	msg := b[:size]

	env := telemetry.Envelope{Metrics: make(map[string]float64)}
	count := 0
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return telemetry.Envelope{}, malformed("tag: %v", protowire.ParseError(n))
		}
		msg = msg[n:]

		switch {
		case num == fieldDeviceUID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(msg)
			if n < 0 {
				return telemetry.Envelope{}, malformed("device_uid: %v", protowire.ParseError(n))
			}
			env.DeviceUID = v
			msg = msg[n:]
		case num == fieldTimestampNs && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(msg)
			if n < 0 {
				return telemetry.Envelope{}, malformed("timestamp_ns: %v", protowire.ParseError(n))
			}
			env.TimestampNs = v
			msg = msg[n:]
		case num == fieldMetric && typ == protowire.BytesType:
			count++
			if count > MaxMetrics {
				return telemetry.Envelope{}, malformed("metric count exceeds %d", MaxMetrics)
			}
			raw, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return telemetry.Envelope{}, malformed("metric: %v", protowire.ParseError(n))
			}
			name, value, err := decodeMetric(raw)
			if err != nil {
				return telemetry.Envelope{}, err
			}
			if _, dup := env.Metrics[name]; dup {
				return telemetry.Envelope{}, malformed("metric %s repeated", name)
			}
			env.Metrics[name] = value
			msg = msg[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return telemetry.Envelope{}, malformed("field %d: %v", num, protowire.ParseError(n))
			}
			msg = msg[n:]
		}
	}
	return env, nil
}

func decodeMetric(b []byte) (string, float64, error) {
	var (
		name     string
		value    float64
		hasValue bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", 0, malformed("metric tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldMetricName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", 0, malformed("metric name: %v", protowire.ParseError(n))
			}
			name = v
			b = b[n:]
		case num == fieldMetricValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return "", 0, malformed("metric value: %v", protowire.ParseError(n))
			}
			value = math.Float64frombits(v)
			hasValue = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", 0, malformed("metric field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if name == "" || !hasValue {
		return "", 0, malformed("metric requires name and value")
	}
	return name, value, nil
}

func frameError(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return truncated(err)
	}
	return malformed("frame length: %v", err)
}

// EncodeFrame renders env in the binary frame format. Metrics are written in
// name order.
func EncodeFrame(env telemetry.Envelope) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldDeviceUID, protowire.BytesType)
	msg = protowire.AppendString(msg, env.DeviceUID)
	msg = protowire.AppendTag(msg, fieldTimestampNs, protowire.Fixed64Type)
	msg = protowire.AppendFixed64(msg, env.TimestampNs)

	names := make([]string, 0, len(env.Metrics))
	for name := range env.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var m []byte
		m = protowire.AppendTag(m, fieldMetricName, protowire.BytesType)
		m = protowire.AppendString(m, name)
		m = protowire.AppendTag(m, fieldMetricValue, protowire.Fixed64Type)
		m = protowire.AppendFixed64(m, math.Float64bits(env.Metrics[name]))
		msg = protowire.AppendTag(msg, fieldMetric, protowire.BytesType)
		msg = protowire.AppendBytes(msg, m)
	}

	out := []byte{frameVersion}
	out = protowire.AppendVarint(out, uint64(len(msg)))
	return append(out, msg...)
}
