// Package transmitter owns the chunking and ACK state for the sample
// currently being downlinked for one metric, and yields the next segment
// to (re)transmit on demand.
package transmitter

import (
	"bytes"
	"fmt"

	"github.com/fissellab/bcp-telemetry/internal/chunk"
	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
	"github.com/fissellab/bcp-telemetry/internal/sample"
)

// overhead reserves space for transport headers and frame metadata ahead
// of the segment payload, as one fixed 40-byte constant rather than a value
// computed from the live socket or the metric_id length.
const overhead = 40

// FetchFunc is supplied by the owning registry at construction. It returns
// the metric's latest sample only when the downlink pipeline has not yet
// adopted it (a "latest_downlinked" hand-off flag lives on the registry
// side, not here), and nil when there is nothing new to adopt. Holding
// only this closure — rather than a reference to the registry — is how
// the transmitter avoids an ownership cycle back to its owner.
type FetchFunc func() *sample.Sample

// MaxPacketSizeFunc reads the current global max_packet_size, also
// supplied by the registry so bps/max_packet_size changes via telecommand
// are visible to in-flight transmitters immediately.
type MaxPacketSizeFunc func() uint32

// Transmitter owns the chunker and ACK bookkeeping for one metric's
// currently-outbound sample. Not safe for concurrent use by multiple
// goroutines; callers (the registry) serialize access under their own
// lock.
type Transmitter struct {
	metricID      string
	fetch         FetchFunc
	maxPacketSize MaxPacketSizeFunc
	sampleID      uint32
	chunker       *chunk.Chunker
	currentIsFile bool
	currentTS     float32
	unacked       []uint32 // insertion-ordered, cyclic
	unackedPos    map[uint32]int
	cursor        int
	sentOnce      map[uint32]bool // seqnums already handed out at least once for sampleID
}

// New constructs a Transmitter for metricID. fetch and maxPacketSize are
// captured, not called, until the first GetPacket.
func New(metricID string, fetch FetchFunc, maxPacketSize MaxPacketSizeFunc) *Transmitter {
	return &Transmitter{
		metricID:      metricID,
		fetch:         fetch,
		maxPacketSize: maxPacketSize,
	}
}

// GetPacket returns the next downlink datagram for this metric's
// transmitter, or nil if there is nothing to send right now. The second
// return reports whether the emitted segment had already been sent at
// least once for the current sample_id (a retransmission of a still-
// unacked segment) as opposed to a first send — the metrics exporter's
// resent-segment counter depends on this distinction.
//
//  1. If there is no current sample or unacked has drained, ask fetch() for
//     a new sample; if none is available, return nil.
//  2. Otherwise adopt it: encode its data, build a fresh Chunker sized to
//     max_packet_size()-overhead, reset unacked to {0..num_chunks}, bump
//     sample_id, reset the cursor.
//  3. Emit the segment at the cursor and advance it, wrapping at the end.
func (t *Transmitter) GetPacket() ([]byte, bool, error) {
	if t.chunker == nil || len(t.unacked) == 0 {
		s := t.fetch()
		if s == nil {
			return nil, false, nil
		}
		if err := t.adopt(s); err != nil {
			return nil, false, err
		}
	}
	seq := t.unacked[t.cursor]
	t.advanceCursor()

	wasResent := t.sentOnce[seq]
	t.sentOnce[seq] = true

	c, err := t.chunker.Chunk(seq)
	if err != nil {
		return nil, false, err
	}
	frame := &sample.SampleFrame{
		MetricID:    t.metricID,
		Timestamp:   t.currentTS,
		IsFile:      t.currentIsFile,
		SampleID:    t.sampleID,
		NumSegments: t.chunker.NumChunks(),
		Seqnum:      c.Seq,
		Data:        c.Data,
	}
	pkt, err := encodeFrame(frame)
	if err != nil {
		return nil, false, err
	}
	return pkt, wasResent, nil
}

func (t *Transmitter) adopt(s *sample.Sample) error {
	data, err := sample.EncodeData(s)
	if err != nil {
		return err
	}
	maxPkt := t.maxPacketSize()
	chunkSize := int(maxPkt) - overhead
	if chunkSize <= 0 {
		return errChunkSizeTooSmall(maxPkt)
	}
	c, err := chunk.New(data, chunkSize)
	if err != nil {
		return err
	}
	t.chunker = c
	t.currentIsFile = s.IsFile()
	t.currentTS = s.Metadata.Timestamp
	t.sampleID++

	n := int(c.NumChunks())
	t.unacked = make([]uint32, n)
	t.unackedPos = make(map[uint32]int, n)
	for i := 0; i < n; i++ {
		t.unacked[i] = uint32(i)
		t.unackedPos[uint32(i)] = i
	}
	t.cursor = 0
	t.sentOnce = make(map[uint32]bool, n)
	return nil
}

func (t *Transmitter) advanceCursor() {
	t.cursor++
	if t.cursor >= len(t.unacked) {
		t.cursor = 0
	}
}

// HandleAck removes acked seqnums belonging to ackedSampleID from unacked,
// returning the number actually removed (for the metrics exporter's
// acked-segment counter). ACKs for a stale sample_id are dropped silently.
// Removing any element resets the cursor to the new first element, per
// the design's "erase then reset iterator to begin" contract. Re-delivery
// of an already-applied ACK is a no-op (idempotent).
func (t *Transmitter) HandleAck(seqnums []uint32, ackedSampleID uint32) int {
	if ackedSampleID != t.sampleID {
		return 0
	}
	if len(t.unacked) == 0 {
		return 0
	}
	toRemove := make(map[uint32]bool, len(seqnums))
	removed := 0
	for _, sq := range seqnums {
		if _, ok := t.unackedPos[sq]; ok {
			toRemove[sq] = true
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	next := t.unacked[:0]
	for _, sq := range t.unacked {
		if toRemove[sq] {
			delete(t.unackedPos, sq)
			continue
		}
		next = append(next, sq)
	}
	t.unacked = next
	for i, sq := range t.unacked {
		t.unackedPos[sq] = i
	}
	t.cursor = 0
	return removed
}

// SampleID returns the sample_id currently in flight (0 before the first
// adoption).
func (t *Transmitter) SampleID() uint32 { return t.sampleID }

// UnackedCount reports how many segments of the current sample remain
// unacknowledged — exposed for the metrics exporter's queue-depth gauge.
func (t *Transmitter) UnackedCount() int { return len(t.unacked) }

func encodeFrame(f *sample.SampleFrame) ([]byte, error) {
	var buf bytes.Buffer
	if err := sample.EncodeSampleFrame(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func errChunkSizeTooSmall(maxPacketSize uint32) error {
	return telemetryerrors.NewInvariantError("transmitter.adopt",
		fmt.Errorf("max_packet_size %d leaves no room for payload after %d bytes of overhead", maxPacketSize, overhead))
}
