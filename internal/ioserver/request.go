package ioserver

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/fissellab/bcp-telemetry/internal/bufpool"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/registry"
	"github.com/fissellab/bcp-telemetry/internal/sample"
)

const requestMaxDatagram = 128

// RequestServer answers each incoming Request{metric_id} with the
// registry's latest encoded Response for that metric. It never blocks on
// the downlink path.
type RequestServer struct {
	conn *net.UDPConn
	reg  *registry.Registry
	log  *slog.Logger
	wg   sync.WaitGroup
}

// NewRequestServer binds a UDP socket at addr for request/response traffic.
func NewRequestServer(addr string, reg *registry.Registry) (*RequestServer, error) {
	conn, err := bindUDP(addr)
	if err != nil {
		return nil, err
	}
	return &RequestServer{
		conn: conn,
		reg:  reg,
		log:  logger.WithEndpoint(logger.Logger(), "request", conn.LocalAddr().String()),
	}, nil
}

// Addr returns the bound socket's local address.
func (s *RequestServer) Addr() string {
	return s.conn.LocalAddr().String()
}

// Start launches the receive loop in a background goroutine.
func (s *RequestServer) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop closes the socket and waits for the loop to exit.
func (s *RequestServer) Stop() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *RequestServer) loop() {
	defer s.wg.Done()
	for {
		buf := bufpool.Get(requestMaxDatagram)
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			bufpool.Put(buf)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("request read error", "error", err)
			continue
		}
		datagram := buf[:n]

		metricID, err := sample.DecodeRequest(datagram)
		if err != nil {
			s.log.Warn("dropping malformed request datagram", "error", err, "preview", hexPreview(datagram))
			bufpool.Put(buf)
			continue
		}
		bufpool.Put(buf)

		resp, ok := s.reg.GetLatestSampleResponse(metricID)
		if !ok {
			absent, encErr := encodeAbsentResponse(metricID)
			if encErr != nil {
				s.log.Warn("failed to encode absent response", "metric_id", metricID, "error", encErr)
				continue
			}
			resp = absent
		}
		if _, err := s.conn.WriteToUDP(resp, from); err != nil {
			s.log.Warn("request send error", "peer_addr", from.String(), "error", err)
		}
	}
}
