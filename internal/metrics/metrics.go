// Package metrics exposes a Prometheus /metrics endpoint reporting the bus's
// operational state: this is observability, not telemetry sample storage.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DownlinkState enumerates the downlink sender's state machine position
// (§4.5) as a gauge value, since Prometheus has no native enum type.
type DownlinkState float64

const (
	DownlinkIdle DownlinkState = iota
	DownlinkSending
	DownlinkBackoff
)

// Registry bundles the collectors the bus reports and the HTTP server that
// exposes them.
type Registry struct {
	reg        *prometheus.Registry
	srv        *http.Server
	listenAddr string
	listener   net.Listener

	QueueDepth       *prometheus.GaugeVec
	SegmentsAcked    prometheus.Counter
	SegmentsResent   prometheus.Counter
	Bps              prometheus.Gauge
	MaxPacketSize    prometheus.Gauge
	TokenThreshold   *prometheus.GaugeVec
	DownlinkSenderFSM prometheus.Gauge
}

// New builds a Registry with every collector registered, ready to serve at
// listenAddr once Start is called.
func New(listenAddr string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "telemetry_bus",
			Name:      "unacked_segments",
			Help:      "Number of unacknowledged chunk segments queued per metric.",
		}, []string{"metric_id"}),
		SegmentsAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry_bus",
			Name:      "segments_acked_total",
			Help:      "Total chunk segments acknowledged by the ground station.",
		}),
		SegmentsResent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry_bus",
			Name:      "segments_resent_total",
			Help:      "Total chunk segments retransmitted because they were not yet acknowledged.",
		}),
		Bps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telemetry_bus",
			Name:      "downlink_bps",
			Help:      "Current configured downlink rate cap in bits per second.",
		}),
		MaxPacketSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telemetry_bus",
			Name:      "max_packet_size_bytes",
			Help:      "Current configured upper bound on a downlink datagram, in bytes.",
		}),
		TokenThreshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "telemetry_bus",
			Name:      "token_threshold",
			Help:      "Fairness weight (visits per packet) configured per metric.",
		}, []string{"metric_id"}),
		DownlinkSenderFSM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telemetry_bus",
			Name:      "downlink_sender_state",
			Help:      "Downlink sender state machine position (0=idle, 1=sending, 2=backoff).",
		}),
	}

	reg.MustRegister(
		r.QueueDepth, r.SegmentsAcked, r.SegmentsResent,
		r.Bps, r.MaxPacketSize, r.TokenThreshold, r.DownlinkSenderFSM,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.listenAddr = listenAddr
	r.srv = &http.Server{Handler: mux}

	return r
}

// SetDownlinkState records the sender's current state machine position.
func (r *Registry) SetDownlinkState(s DownlinkState) {
	r.DownlinkSenderFSM.Set(float64(s))
}

// Start binds the listen address and serves /metrics in a background
// goroutine, returning immediately so a bind failure can be reported
// synchronously rather than discovered only via the error channel.
func (r *Registry) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", r.listenAddr)
	if err != nil {
		return nil, err
	}
	r.listener = ln

	errCh := make(chan error, 1)
	go func() {
		if err := r.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Addr returns the address Start actually bound, including the OS-assigned
// port if listenAddr's port was 0.
func (r *Registry) Addr() string {
	if r.listener == nil {
		return r.listenAddr
	}
	return r.listener.Addr().String()
}

// Stop gracefully shuts down the metrics HTTP server.
func (r *Registry) Stop(ctx context.Context) error {
	return r.srv.Shutdown(ctx)
}
