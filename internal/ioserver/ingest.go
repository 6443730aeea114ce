// Package ioserver implements the four independent UDP reactor loops that
// sit at the edge of the telemetry bus: ingest, request/response,
// telecommand, and the rate-paced downlink sender (§4.5). Each owns its
// own socket; a failure in one never affects the others.
package ioserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/fissellab/bcp-telemetry/internal/bufpool"
	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/registry"
	"github.com/fissellab/bcp-telemetry/internal/sample"
)

const ingestMaxDatagram = 4096

// IngestServer decodes each incoming datagram into a Sample and hands it
// to the registry. Decode failures are logged and dropped; the loop never
// terminates because of malformed input.
type IngestServer struct {
	conn *net.UDPConn
	reg  *registry.Registry
	log  *slog.Logger
	wg   sync.WaitGroup
}

// NewIngestServer binds a UDP socket at addr. A bind failure is fatal at
// startup per §6.7's exit-code policy, surfaced here as a BindError.
func NewIngestServer(addr string, reg *registry.Registry) (*IngestServer, error) {
	conn, err := bindUDP(addr)
	if err != nil {
		return nil, err
	}
	return &IngestServer{
		conn: conn,
		reg:  reg,
		log:  logger.WithEndpoint(logger.Logger(), "ingest", conn.LocalAddr().String()),
	}, nil
}

// Addr returns the bound socket's local address.
func (s *IngestServer) Addr() string {
	return s.conn.LocalAddr().String()
}

// Start launches the receive loop in a background goroutine.
func (s *IngestServer) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop closes the socket and waits for the loop to exit.
func (s *IngestServer) Stop() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *IngestServer) loop() {
	defer s.wg.Done()
	for {
		buf := bufpool.Get(ingestMaxDatagram)
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			bufpool.Put(buf)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("ingest read error", "error", err)
			continue
		}
		datagram := buf[:n]

		smp, err := sample.DecodeSample(datagram)
		if err != nil {
			s.log.Warn("dropping malformed ingest datagram", "error", err, "preview", hexPreview(datagram))
			bufpool.Put(buf)
			continue
		}
		if err := s.reg.AddSample(smp); err != nil {
			s.log.Warn("failed to add sample", "metric_id", smp.Metadata.MetricID, "error", err)
		}
		bufpool.Put(buf)
	}
}

func bindUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, telemetryerrors.NewBindError(addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, telemetryerrors.NewBindError(addr, err)
	}
	return conn, nil
}

// hexPreview renders the first 16 bytes of a malformed datagram for log
// lines, per §7's DecodeError policy.
func hexPreview(data []byte) string {
	n := len(data)
	if n > 16 {
		n = 16
	}
	return fmt.Sprintf("%x", data[:n])
}
