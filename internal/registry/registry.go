// Package registry implements the onboard telemetry bus's shared mutable
// state: the metric_id -> MetricInfo map, per-metric transmitters, and the
// global bps / max_packet_size parameters. It is the single owning object
// all four I/O servers and the scheduler reach through.
package registry

import (
	"bytes"
	"fmt"

	"sync"

	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/sample"
	"github.com/fissellab/bcp-telemetry/internal/transmitter"
)

const (
	// DefaultTokenThreshold is the fairness weight assigned to a metric on
	// first sample.
	DefaultTokenThreshold = 1
)

// MetricInfo is the per-metric record created lazily on first sample and
// kept for the lifetime of the process.
type MetricInfo struct {
	TokenThreshold   uint32
	LatestSample     *sample.Sample
	LatestDownlinked bool
	Transmitter      *transmitter.Transmitter
}

// Registry is the thread-safe metric_id -> MetricInfo map plus the global
// bps / max_packet_size parameters. A single RWMutex protects all of it;
// per-metric state never needs a lock of its own because every mutation
// that touches a MetricInfo (including inside a Transmitter's fetch
// closure) happens while the registry's lock is already held by the
// calling method below — see the comment on newSampleFetcher.
type Registry struct {
	mu            sync.RWMutex
	metrics       map[sample.MetricId]*MetricInfo
	order         []sample.MetricId // insertion order, survives inserts during iteration
	bps           uint32
	maxPacketSize uint32

	onMetricCreated func(sample.MetricId)
	onSegmentsAcked func(count int)

	initialTokenThresholds map[sample.MetricId]uint32
}

// SetInitialTokenThresholds configures the per-metric token_threshold a
// newly-created MetricInfo is assigned, overriding DefaultTokenThreshold
// for any metric_id present in m. Supplied at process start from config;
// has no effect on metrics that already exist. A nil or empty map
// restores the default for every subsequently-created metric.
func (r *Registry) SetInitialTokenThresholds(m map[sample.MetricId]uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialTokenThresholds = m
}

// New constructs an empty Registry with the given initial runtime
// parameters (see spec §6.7 defaults: bps=100000, max_packet_size=100).
func New(initBps, initMaxPacketSize uint32) *Registry {
	return &Registry{
		metrics:       make(map[sample.MetricId]*MetricInfo),
		bps:           initBps,
		maxPacketSize: initMaxPacketSize,
	}
}

// AddSample records a new measurement. If the metric is unseen, a
// MetricInfo and Transmitter are created with the token_threshold set for
// it via SetInitialTokenThresholds, or DefaultTokenThreshold. If it
// already exists, latest_sample is overwritten and latest_downlinked reset
// to false — this is the "latest wins" cache, with no history retained.
func (r *Registry) AddSample(s *sample.Sample) error {
	if s == nil {
		return telemetryerrors.NewInvariantError("registry.add_sample", fmt.Errorf("sample cannot be nil"))
	}
	id := s.Metadata.MetricID

	r.mu.Lock()
	created := false
	if info, ok := r.metrics[id]; ok {
		info.LatestSample = s
		info.LatestDownlinked = false
	} else {
		threshold := uint32(DefaultTokenThreshold)
		if t, ok := r.initialTokenThresholds[id]; ok {
			threshold = t
		}
		info := &MetricInfo{
			TokenThreshold:   threshold,
			LatestSample:     s,
			LatestDownlinked: false,
		}
		info.Transmitter = transmitter.New(id, r.newSampleFetcher(id), r.readMaxPacketSize)
		r.metrics[id] = info
		r.order = append(r.order, id)
		created = true
	}
	hook := r.onMetricCreated
	r.mu.Unlock()

	if created {
		logger.Debug("registered new metric", "metric_id", id)
		if hook != nil {
			hook(id)
		}
	}
	return nil
}

// SetMetricCreatedHook registers a callback invoked (outside the registry
// lock) every time AddSample sees a previously unknown metric_id. Passing
// nil disables it. Used to drive the operational metric.created hook.
func (r *Registry) SetMetricCreatedHook(fn func(sample.MetricId)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMetricCreated = fn
}

// newSampleFetcher returns the closure handed to a metric's Transmitter at
// construction. It reads latest_sample and flips latest_downlinked to true
// as a hand-off side effect — the one point where ingest yields ownership
// of a sample to the downlink pipeline.
//
// This closure is only ever invoked synchronously from inside
// GetPacketForMetric below, which already holds r.mu for writing; it must
// never acquire r.mu itself or it would deadlock against its own caller.
func (r *Registry) newSampleFetcher(id sample.MetricId) transmitter.FetchFunc {
	return func() *sample.Sample {
		info, ok := r.metrics[id]
		if !ok || info.LatestDownlinked {
			return nil
		}
		info.LatestDownlinked = true
		return info.LatestSample
	}
}

// readMaxPacketSize is the MaxPacketSizeFunc handed to every Transmitter.
// Like newSampleFetcher, it is only ever called while r.mu is already held
// by GetPacketForMetric, so it reads the field directly without locking.
func (r *Registry) readMaxPacketSize() uint32 {
	return r.maxPacketSize
}

// GetPacketForMetric asks the named metric's transmitter for its next
// downlink datagram, or (nil, false, nil) if the metric is unknown or has
// nothing to send right now. The second return reports whether the
// segment is a retransmission of a still-unacked send rather than a
// first send. This is the scheduler's only entry point into a
// transmitter.
func (r *Registry) GetPacketForMetric(id sample.MetricId) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.metrics[id]
	if !ok {
		return nil, false, nil
	}
	return info.Transmitter.GetPacket()
}

// GetLatestSampleResponse encodes a Response frame (§6.3) for id. The
// second return is false when the metric has never produced a sample. A
// File sample encodes as an absent primitive — files are never served
// over request/response (WrongResponseType).
func (r *Registry) GetLatestSampleResponse(id sample.MetricId) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.metrics[id]
	if !ok {
		return nil, false
	}
	var prim *sample.Primitive
	if info.LatestSample != nil {
		prim = info.LatestSample.Primitive
	}
	var buf bytes.Buffer
	if err := sample.EncodeResponse(&buf, id, prim); err != nil {
		logger.Error("failed to encode response", "metric_id", id, "error", err)
		return nil, false
	}
	return buf.Bytes(), true
}

// Ack is one decoded uplink acknowledgement (§6.5).
type Ack struct {
	MetricID sample.MetricId
	SampleID uint32
	Seqnums  []uint32
}

// HandleAck forwards an ACK to the named metric's transmitter. An ACK for
// an unknown metric is logged and dropped, not an error — per §7, the
// uplink cannot be trusted to only reference live metrics.
func (r *Registry) HandleAck(ack Ack) {
	r.mu.Lock()
	info, ok := r.metrics[ack.MetricID]
	if !ok {
		r.mu.Unlock()
		logger.Warn("ack for unknown metric", "metric_id", ack.MetricID)
		return
	}
	removed := info.Transmitter.HandleAck(ack.Seqnums, ack.SampleID)
	hook := r.onSegmentsAcked
	r.mu.Unlock()

	if removed > 0 && hook != nil {
		hook(removed)
	}
}

// SetSegmentsAckedHook registers a callback invoked (outside the registry
// lock) with the count of segments a HandleAck call actually removed from
// a transmitter's unacked set. Passing nil disables it. Used to drive the
// metrics exporter's acked-segment counter.
func (r *Registry) SetSegmentsAckedHook(fn func(count int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSegmentsAcked = fn
}

// SetBps sets the downlink rate cap (§6.7).
func (r *Registry) SetBps(bps uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bps = bps
}

// Bps returns the current downlink rate cap.
func (r *Registry) Bps() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bps
}

// SetMaxPacketSize sets the upper bound on downlink datagram size (§6.7).
func (r *Registry) SetMaxPacketSize(n uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxPacketSize = n
}

// MaxPacketSize returns the current max_packet_size.
func (r *Registry) MaxPacketSize() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxPacketSize
}

// MetricExists reports whether id has ever produced a sample.
func (r *Registry) MetricExists(id sample.MetricId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.metrics[id]
	return ok
}

// NumMetrics returns the current number of tracked metrics.
func (r *Registry) NumMetrics() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Iterator returns a fresh, independently-positioned MetricIterator over
// this registry's metrics in insertion order.
func (r *Registry) Iterator() *MetricIterator {
	return &MetricIterator{reg: r}
}

// MetricSnapshot is a point-in-time, lock-free copy of one metric's
// bookkeeping fields, for periodic reporting (metrics gauges, stalled-hook
// detection) without holding the registry lock for the duration of the scan.
type MetricSnapshot struct {
	MetricID         sample.MetricId
	TokenThreshold   uint32
	LatestDownlinked bool
	SampleTimestamp  float32
	UnackedSegments  int
}

// Snapshot copies every tracked metric's current bookkeeping fields under a
// single read lock.
func (r *Registry) Snapshot() []MetricSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricSnapshot, 0, len(r.order))
	for _, id := range r.order {
		info := r.metrics[id]
		snap := MetricSnapshot{
			MetricID:         id,
			TokenThreshold:   info.TokenThreshold,
			LatestDownlinked: info.LatestDownlinked,
			UnackedSegments:  info.Transmitter.UnackedCount(),
		}
		if info.LatestSample != nil {
			snap.SampleTimestamp = info.LatestSample.Metadata.Timestamp
		}
		out = append(out, snap)
	}
	return out
}

// MetricIterator is a resumable, cyclic cursor over a Registry's metrics
// in insertion order. Metrics added after construction are visited too —
// the backing order slice is read fresh on every Next call rather than
// snapshotted, mirroring the source's iterator-survives-insert property.
type MetricIterator struct {
	reg *Registry
	pos int
}

// Next returns the next metric_id and its token_threshold, wrapping to
// the start after the last. ok is false only when the registry has no
// metrics at all yet.
func (it *MetricIterator) Next() (id sample.MetricId, tokenThreshold uint32, ok bool) {
	it.reg.mu.RLock()
	defer it.reg.mu.RUnlock()
	n := len(it.reg.order)
	if n == 0 {
		return "", 0, false
	}
	if it.pos >= n {
		it.pos = 0
	}
	id = it.reg.order[it.pos]
	info := it.reg.metrics[id]
	it.pos++
	if it.pos >= n {
		it.pos = 0
	}
	return id, info.TokenThreshold, true
}
