package ioserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/fissellab/bcp-telemetry/internal/bufpool"
	"github.com/fissellab/bcp-telemetry/internal/control"
	"github.com/fissellab/bcp-telemetry/internal/hooks"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/registry"
)

const telecommandMaxDatagram = 4096

// TelecommandServer parses JSON uplink telecommands (§6.5) and applies
// them to the registry. An unrecognized shape is logged and dropped; the
// listener keeps accepting subsequent well-formed commands (S6).
type TelecommandServer struct {
	conn  *net.UDPConn
	reg   *registry.Registry
	log   *slog.Logger
	hooks *hooks.Manager
	wg    sync.WaitGroup
}

// SetHookManager wires an operational hook manager so bps.changed and
// telecommand.rejected events fire as telecommands are processed. Optional;
// a nil manager (the default) simply skips event dispatch.
func (s *TelecommandServer) SetHookManager(m *hooks.Manager) {
	s.hooks = m
}

// NewTelecommandServer binds a UDP socket at addr for uplink telecommands.
func NewTelecommandServer(addr string, reg *registry.Registry) (*TelecommandServer, error) {
	conn, err := bindUDP(addr)
	if err != nil {
		return nil, err
	}
	return &TelecommandServer{
		conn: conn,
		reg:  reg,
		log:  logger.WithEndpoint(logger.Logger(), "telecommand", conn.LocalAddr().String()),
	}, nil
}

// Addr returns the bound socket's local address.
func (s *TelecommandServer) Addr() string {
	return s.conn.LocalAddr().String()
}

// Start launches the receive loop in a background goroutine.
func (s *TelecommandServer) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop closes the socket and waits for the loop to exit.
func (s *TelecommandServer) Stop() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *TelecommandServer) loop() {
	defer s.wg.Done()
	for {
		buf := bufpool.Get(telecommandMaxDatagram)
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			bufpool.Put(buf)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("telecommand read error", "error", err)
			continue
		}
		datagram := buf[:n]

		prevBps := s.reg.Bps()
		if err := control.Apply(s.reg, datagram); err != nil {
			s.log.Warn("dropping malformed telecommand", "error", err, "preview", hexPreview(datagram))
			bufpool.Put(buf)
			if s.hooks != nil {
				s.hooks.TriggerEvent(context.Background(),
					*hooks.NewEvent(hooks.EventTelecommandRejected).WithData("error", err.Error()))
			}
			continue
		}
		bufpool.Put(buf)
		if s.hooks != nil {
			if newBps := s.reg.Bps(); newBps != prevBps {
				s.hooks.TriggerEvent(context.Background(),
					*hooks.NewEvent(hooks.EventBpsChanged).WithData("bps", newBps))
			}
		}
	}
}
