// Package ingestid derives the idempotency key carried by every envelope.
package ingestid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"

	"github.com/smallbiznis/plantwatch/internal/telemetry"
)

// Compute returns the lowercase hex SHA-256 of device uid, timestamp and metric
// content. Metrics are hashed in name order so map iteration never matters.
// Strings are length-prefixed, so no choice of bytes inside a device uid or
// metric name can move a field boundary.
func Compute(env telemetry.Envelope) string {
	h := sha256.New()
	writeString(h, env.DeviceUID)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], env.TimestampNs)
	h.Write(ts[:])
	writeMetrics(h, env.Metrics)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes only the metric payload.
func ContentHash(metrics map[string]float64) string {
	h := sha256.New()
	writeMetrics(h, metrics)
	return hex.EncodeToString(h.Sum(nil))
}

// Ensure fills env.IngestID when the sender did not precompute it.
func Ensure(env telemetry.Envelope) telemetry.Envelope {
	if env.IngestID == "" {
		env.IngestID = Compute(env)
	}
	return env
}

func writeMetrics(h hash.Hash, metrics map[string]float64) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	h.Write(binary.AppendUvarint(nil, uint64(len(names))))
	var bits [8]byte
	for _, name := range names {
		writeString(h, name)
		binary.LittleEndian.PutUint64(bits[:], math.Float64bits(metrics[name]))
		h.Write(bits[:])
	}
}

func writeString(h hash.Hash, s string) {
	h.Write(binary.AppendUvarint(nil, uint64(len(s))))
	h.Write([]byte(s))
}
