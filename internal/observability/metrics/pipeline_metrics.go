package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plantwatch"

const (
	FlushTriggerSize     = "size"
	FlushTriggerTimer    = "timer"
	FlushTriggerShutdown = "shutdown"

	DropReasonQueueFull     = "queue_full"
	DropReasonForwardFailed = "forward_failed"
)

// PipelineMetrics holds the Prometheus collectors scraped from /metrics.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	packetsReceived  prometheus.Counter
	socketErrors     prometheus.Counter
	decoded          prometheus.Counter
	decodeFailures   *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	flushes          *prometheus.CounterVec
	batchSize        prometheus.Histogram
	forwardAttempts  *prometheus.CounterVec
	batchesDropped   prometheus.Counter
	sinkWrites       *prometheus.CounterVec
	sinkLatency      *prometheus.HistogramVec
	publishDropped   prometheus.Counter
	ledgerRecovered  prometheus.Counter
}

func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "plantwatch"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &PipelineMetrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "packets_received_total",
			Help: "UDP packets read from the socket", ConstLabels: constLabels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "socket_errors_total",
			Help: "Socket read errors", ConstLabels: constLabels,
		}),
		decoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "envelopes_decoded_total",
			Help: "Packets decoded into envelopes", ConstLabels: constLabels,
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "decode_failures_total",
			Help: "Packets dropped by the decoder, by failure class", ConstLabels: constLabels,
		}, []string{"class"}),
		envelopesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "envelopes_dropped_total",
			Help: "Envelopes lost before reaching the supervisor", ConstLabels: constLabels,
		}, []string{"reason"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "flushes_total",
			Help: "Batches flushed, by trigger", ConstLabels: constLabels,
		}, []string{"trigger"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "router", Name: "batch_size",
			Help: "Envelopes per flushed batch", ConstLabels: constLabels,
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		forwardAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "forward_attempts_total",
			Help: "Forwarding attempts, by outcome", ConstLabels: constLabels,
		}, []string{"outcome"}),
		batchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "batches_dropped_total",
			Help: "Batches dropped after exhausting retries", ConstLabels: constLabels,
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "sink_writes_total",
			Help: "Telemetry sink writes, by sink and outcome", ConstLabels: constLabels,
		}, []string{"sink", "outcome"}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "sink_write_seconds",
			Help: "Telemetry sink write latency", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		publishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "publish_dropped_total",
			Help: "Status changes dropped because the publish queue was full", ConstLabels: constLabels,
		}),
		ledgerRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "ledger_recovered_total",
			Help: "Provisional ledger rows finalized as ERROR by recovery", ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.packetsReceived,
		m.socketErrors,
		m.decoded,
		m.decodeFailures,
		m.envelopesDropped,
		m.flushes,
		m.batchSize,
		m.forwardAttempts,
		m.batchesDropped,
		m.sinkWrites,
		m.sinkLatency,
		m.publishDropped,
		m.ledgerRecovered,
	)
	return m
}

func (m *PipelineMetrics) RecordPacket() {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
}

func (m *PipelineMetrics) RecordSocketError() {
	if m == nil {
		return
	}
	m.socketErrors.Inc()
}

func (m *PipelineMetrics) RecordDecoded() {
	if m == nil {
		return
	}
	m.decoded.Inc()
}

func (m *PipelineMetrics) RecordDecodeFailure(class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "unknown"
	}
	m.decodeFailures.WithLabelValues(class).Inc()
}

func (m *PipelineMetrics) RecordEnvelopesDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.envelopesDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *PipelineMetrics) RecordFlush(trigger string, size int) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(trigger).Inc()
	m.batchSize.Observe(float64(size))
}

func (m *PipelineMetrics) RecordForwardAttempt(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.forwardAttempts.WithLabelValues(outcome).Inc()
}

// RecordBatchDropped counts a lost batch and its envelopes.
func (m *PipelineMetrics) RecordBatchDropped(size int) {
	if m == nil {
		return
	}
	m.batchesDropped.Inc()
	m.RecordEnvelopesDropped(DropReasonForwardFailed, size)
}

func (m *PipelineMetrics) RecordSinkWrite(sink string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sinkWrites.WithLabelValues(sink, outcome).Inc()
	m.sinkLatency.WithLabelValues(sink).Observe(seconds)
}

func (m *PipelineMetrics) RecordPublishDropped() {
	if m == nil {
		return
	}
	m.publishDropped.Inc()
}

func (m *PipelineMetrics) RecordLedgerRecovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ledgerRecovered.Add(float64(n))
}
