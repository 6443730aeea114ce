// Package control decodes uplink telecommand datagrams (§6.5) into
// structured Go values. Telecommands are UTF-8 JSON, one of three shapes;
// Decode dispatches on which top-level key is present, mirroring the
// control package's type-ID dispatch but keyed on JSON shape instead of a
// binary type byte.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/fissellab/bcp-telemetry/internal/registry"
)

// Ack is the decoded {"ack": {...}} telecommand.
type Ack struct {
	MetricID string   `json:"metric_id"`
	SampleID uint32   `json:"sample_id"`
	Seqnums  []uint32 `json:"seqnums"`
}

// SetBps is the decoded {"set_bps": {...}} telecommand.
type SetBps struct {
	Bps uint32 `json:"bps"`
}

// SetMaxPktSize is the decoded {"set_max_pkt_size": {...}} telecommand.
type SetMaxPktSize struct {
	MaxPktSize uint32 `json:"max_pkt_size"`
}

// envelope mirrors all three telecommand shapes at once so json.Unmarshal
// can tell which key was actually present without a custom UnmarshalJSON.
type envelope struct {
	Ack           *Ack           `json:"ack"`
	SetBps        *SetBps        `json:"set_bps"`
	SetMaxPktSize *SetMaxPktSize `json:"set_max_pkt_size"`
}

// Decode parses a telecommand datagram into one of Ack, SetBps, or
// SetMaxPktSize as an any. An unrecognized shape, or a shape with none of
// the three keys present, is a decode error — callers should log and drop
// per §7, never propagate it further.
func Decode(payload []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("control: malformed telecommand json: %w", err)
	}
	switch {
	case env.Ack != nil:
		return env.Ack, nil
	case env.SetBps != nil:
		return env.SetBps, nil
	case env.SetMaxPktSize != nil:
		return env.SetMaxPktSize, nil
	default:
		return nil, fmt.Errorf("control: telecommand has none of ack/set_bps/set_max_pkt_size")
	}
}

// Apply decodes payload and applies it directly to reg. It is the single
// entrypoint the telecommand listener calls per datagram; decode and
// routing failures are both returned as plain errors for the caller to
// log, never panicking or terminating the listener.
func Apply(reg *registry.Registry, payload []byte) error {
	cmd, err := Decode(payload)
	if err != nil {
		return err
	}
	switch c := cmd.(type) {
	case *Ack:
		reg.HandleAck(registry.Ack{MetricID: c.MetricID, SampleID: c.SampleID, Seqnums: c.Seqnums})
	case *SetBps:
		reg.SetBps(c.Bps)
	case *SetMaxPktSize:
		reg.SetMaxPacketSize(c.MaxPktSize)
	default:
		return fmt.Errorf("control: unreachable telecommand type %T", cmd)
	}
	return nil
}
