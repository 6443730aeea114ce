package ioserver

import (
	"log/slog"
	"net"
	"sync"
	"time"

	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/metrics"
	"github.com/fissellab/bcp-telemetry/internal/registry"
	"github.com/fissellab/bcp-telemetry/internal/relay"
)

// minWait and maxWait bound the exponential backoff applied when the
// scheduler has nothing to send (§4.5's BACKOFF state).
const (
	minWait = 1 * time.Millisecond
	maxWait = 1000 * time.Millisecond
)

// packetSource is the subset of *scheduler.Scheduler the sender needs.
// Declared here (rather than importing scheduler directly) so this
// package does not also need to depend on the registry package's
// scheduler consumer — kept narrow for testability with a stub.
type packetSource interface {
	Pop() ([]byte, bool, error)
}

// DownlinkSender implements the rate-paced downlink state machine:
// IDLE -> (pop=Some) -> SENDING -> WAIT_RATE -> IDLE
// IDLE -> (pop=None) -> BACKOFF -> IDLE
// Only one outstanding send is ever in flight.
type DownlinkSender struct {
	conn  *net.UDPConn
	reg   *registry.Registry
	sched packetSource
	log   *slog.Logger

	relay   *relay.Manager
	metrics *metrics.Registry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetRelay configures an optional fan-out manager: every datagram written
// to the primary downlink destination is also copied to each of its
// configured ground-station endpoints. Passing nil disables fan-out.
func (s *DownlinkSender) SetRelay(m *relay.Manager) {
	s.relay = m
}

// SetMetrics wires an optional Prometheus registry: the sender reports its
// state machine position (idle/sending/backoff) and retransmit count.
// Passing nil disables metrics reporting.
func (s *DownlinkSender) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// NewDownlinkSender binds localAddr and connects to destAddr, the
// configured ground endpoint. reg supplies the live bps used for rate
// pacing; sched produces the next packet to send.
func NewDownlinkSender(localAddr, destAddr string, reg *registry.Registry, sched packetSource) (*DownlinkSender, error) {
	local, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, telemetryerrors.NewBindError(localAddr, err)
	}
	dest, err := net.ResolveUDPAddr("udp", destAddr)
	if err != nil {
		return nil, telemetryerrors.NewBindError(destAddr, err)
	}
	conn, err := net.DialUDP("udp", local, dest)
	if err != nil {
		return nil, telemetryerrors.NewBindError(localAddr, err)
	}
	return &DownlinkSender{
		conn:   conn,
		reg:    reg,
		sched:  sched,
		log:    logger.WithEndpoint(logger.Logger(), "downlink", dest.String()),
		stopCh: make(chan struct{}),
	}, nil
}

// Addr returns the bound socket's local address.
func (s *DownlinkSender) Addr() string {
	return s.conn.LocalAddr().String()
}

// Start launches the pacer loop in a background goroutine.
func (s *DownlinkSender) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the loop to exit and closes the socket.
func (s *DownlinkSender) Stop() error {
	close(s.stopCh)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *DownlinkSender) loop() {
	defer s.wg.Done()
	backoff := minWait
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		pkt, wasResent, err := s.sched.Pop()
		if err != nil {
			s.log.Warn("scheduler pop error", "error", err)
			s.setState(metrics.DownlinkBackoff)
			if s.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		if pkt == nil {
			s.setState(metrics.DownlinkBackoff)
			if s.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minWait
		s.setState(metrics.DownlinkSending)
		n, err := s.conn.Write(pkt)
		if err != nil {
			s.log.Warn("downlink send error", "error", err)
			continue
		}
		if s.metrics != nil && wasResent {
			s.metrics.SegmentsResent.Inc()
		}
		if s.relay != nil {
			s.relay.Relay(pkt)
		}

		bps := s.reg.Bps()
		if bps > 0 {
			waitSeconds := float64(n*8) / float64(bps)
			if s.sleep(time.Duration(waitSeconds * float64(time.Second))) {
				return
			}
		}
		s.setState(metrics.DownlinkIdle)
	}
}

// setState reports the sender's current state machine position if a
// metrics registry is wired; a no-op otherwise.
func (s *DownlinkSender) setState(st metrics.DownlinkState) {
	if s.metrics != nil {
		s.metrics.SetDownlinkState(st)
	}
}

// sleep blocks for d or until Stop is called, whichever comes first.
// Returns true if it was woken by Stop.
func (s *DownlinkSender) sleep(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stopCh:
		return true
	case <-t.C:
		return false
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxWait {
		return maxWait
	}
	return next
}
