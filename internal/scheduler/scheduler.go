// Package scheduler implements the round-robin, token-weighted fairness
// rule that decides which metric gets to emit its next downlink packet.
package scheduler

import (
	"github.com/fissellab/bcp-telemetry/internal/registry"
	"github.com/fissellab/bcp-telemetry/internal/sample"
)

// Scheduler produces the next downlink packet across all metrics using a
// cyclic iterator over the registry plus a per-metric token counter. State
// (the iterator position and the counters) lives here, not in Pop's
// arguments, so it is resumable across calls.
type Scheduler struct {
	reg    *registry.Registry
	it     *registry.MetricIterator
	tokens map[sample.MetricId]uint32
}

// New constructs a Scheduler over reg. The iterator and token counters are
// created lazily relative to reg's metric set, so metrics registered after
// construction are picked up automatically.
func New(reg *registry.Registry) *Scheduler {
	return &Scheduler{
		reg:    reg,
		it:     reg.Iterator(),
		tokens: make(map[sample.MetricId]uint32),
	}
}

// Pop returns the next downlink packet, or nil if no metric currently has
// one to send. The second return reports whether the returned packet is a
// retransmission of a still-unacked segment rather than a first send.
// Within a single Pop, each metric known at call time is tried at most
// once: a metric's token counter accrues on every visit but the counter
// resets to zero only when it actually yields a packet. A metric with
// token_threshold k is therefore eligible to send once every k visits.
func (s *Scheduler) Pop() ([]byte, bool, error) {
	n := s.reg.NumMetrics()
	for attempt := 0; attempt < n; attempt++ {
		id, threshold, ok := s.it.Next()
		if !ok {
			return nil, false, nil
		}
		s.tokens[id]++
		if s.tokens[id] < threshold {
			continue
		}
		pkt, wasResent, err := s.reg.GetPacketForMetric(id)
		if err != nil {
			return nil, false, err
		}
		if pkt != nil {
			s.tokens[id] = 0
			return pkt, wasResent, nil
		}
		// threshold met but nothing to send: the original leaves the
		// counter as-is rather than resetting it, so the metric is
		// retried again on its very next visit.
	}
	return nil, false, nil
}
