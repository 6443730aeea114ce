// Package relay fans a single outbound downlink datagram out to zero or
// more additional ground-station UDP endpoints beyond the primary
// downlink sender. Unlike a connection-oriented relay, there is no
// handshake or reconnect state: UDP sends are fire-and-forget, so a dead
// destination only ever shows up as a logged send error on its own
// datagrams, never as a blocking reconnect loop.
package relay

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/logger"
)

// Status summarizes whether a destination's most recent send succeeded.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusError {
		return "error"
	}
	return "ok"
}

// Destination is one additional ground-station UDP endpoint.
type Destination struct {
	Addr string

	mu            sync.RWMutex
	conn          *net.UDPConn
	status        Status
	lastErr       error
	bytesSent     uint64
	datagramsSent uint64
	lastSentTime  time.Time
	logger        *slog.Logger
}

// NewDestination resolves and dials addr. Dialing UDP never blocks on
// network I/O (no handshake takes place), so a bad address is the only
// failure mode here.
func NewDestination(addr string, log *slog.Logger) (*Destination, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid destination address %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial destination %q: %w", addr, err)
	}
	return &Destination{
		Addr:   addr,
		conn:   conn,
		logger: log.With("relay_destination", addr),
	}, nil
}

// Send writes data to this destination, updating status and metrics.
func (d *Destination) Send(data []byte) error {
	n, err := d.conn.Write(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.status = StatusError
		d.lastErr = err
		return err
	}
	d.status = StatusOK
	d.lastErr = nil
	d.bytesSent += uint64(n)
	d.datagramsSent++
	d.lastSentTime = time.Now()
	return nil
}

// GetStatus returns the destination's most recent send status.
func (d *Destination) GetStatus() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Close releases the destination's socket.
func (d *Destination) Close() error {
	return d.conn.Close()
}

// Manager fans a downlink datagram out to every configured destination in
// parallel, synchronously waiting for all sends to finish. Send errors are
// logged per destination and not returned to the caller.
type Manager struct {
	mu           sync.RWMutex
	destinations map[string]*Destination
	logger       *slog.Logger
}

// NewManager dials every address in addrs, logging and skipping any that
// fail to resolve rather than aborting the whole fan-out set.
func NewManager(addrs []string) *Manager {
	m := &Manager{
		destinations: make(map[string]*Destination),
		logger:       logger.Logger().With("component", "relay_manager"),
	}
	for _, addr := range addrs {
		dest, err := NewDestination(addr, m.logger)
		if err != nil {
			m.logger.Warn("failed to add relay destination", "addr", addr, "error", err)
			continue
		}
		m.destinations[addr] = dest
	}
	return m
}

// Relay sends data to every configured destination in parallel. Each
// destination's failure is independent and logged; one dead destination
// never blocks or drops datagrams to the others.
func (m *Manager) Relay(data []byte) {
	m.mu.RLock()
	dests := make([]*Destination, 0, len(m.destinations))
	for _, d := range m.destinations {
		dests = append(dests, d)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(1)
		go func(dest *Destination) {
			defer wg.Done()
			if err := dest.Send(data); err != nil {
				m.logger.Warn("relay send failed", "addr", dest.Addr, "error", err)
			}
		}(d)
	}
	wg.Wait()
}

// Count returns the number of live destinations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.destinations)
}

// Close closes every destination's socket, returning the first error
// encountered (if any) after attempting to close them all.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, d := range m.destinations {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.destinations = make(map[string]*Destination)
	if firstErr != nil {
		return firstErr
	}
	return nil
}
