// Package router reads device packets from UDP and hands decoded envelopes
// to the forwarder.
package router

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/smallbiznis/plantwatch/internal/decoder"
	"github.com/smallbiznis/plantwatch/internal/ingestid"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.uber.org/zap"
)

const socketErrorPause = 50 * time.Millisecond

// Submitter accepts envelopes without blocking.
type Submitter interface {
	Submit(env telemetry.Envelope) bool
}

type Router struct {
	conn      net.PacketConn
	decoder   *decoder.Decoder
	submitter Submitter
	log       *zap.Logger
	metrics   *obsmetrics.PipelineMetrics
	done      chan struct{}
}

func New(conn net.PacketConn, dec *decoder.Decoder, submitter Submitter, log *zap.Logger, metrics *obsmetrics.PipelineMetrics) *Router {
	return &Router{
		conn:      conn,
		decoder:   dec,
		submitter: submitter,
		log:       log.Named("router.udp"),
		metrics:   metrics,
		done:      make(chan struct{}),
	}
}

// Listen binds a UDP socket on addr.
func Listen(addr string) (net.PacketConn, error) {
	return net.ListenPacket("udp", addr)
}

func (r *Router) Addr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Run reads packets until ctx is cancelled. Closing the socket unblocks the
// pending read.
func (r *Router) Run(ctx context.Context) {
	defer close(r.done)

	stop := context.AfterFunc(ctx, func() {
		_ = r.conn.Close()
	})
	defer stop()

	buf := make([]byte, decoder.MaxPacketSize)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.metrics.RecordSocketError()
			r.log.Warn("udp read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(socketErrorPause):
			}
			continue
		}
		r.metrics.RecordPacket()
		r.handle(buf[:n], from)
	}
}

func (r *Router) handle(packet []byte, from net.Addr) {
	env, err := r.decoder.Decode(packet)
	if err != nil {
		r.log.Debug("packet dropped",
			zap.String("class", string(decoder.ClassOf(err))),
			zap.Stringer("from", from),
			zap.Error(err),
		)
		return
	}

	env = ingestid.Ensure(env)
	if !r.submitter.Submit(env) {
		r.log.Debug("envelope not queued",
			zap.String("device_uid", env.DeviceUID),
			zap.String("ingest_id", env.IngestID),
		)
	}
}
