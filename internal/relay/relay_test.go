package relay

import (
	"net"
	"testing"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/logger"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestManager_RelayFansOutToAllDestinations(t *testing.T) {
	a := listenUDP(t)
	defer a.Close()
	b := listenUDP(t)
	defer b.Close()

	m := NewManager([]string{a.LocalAddr().String(), b.LocalAddr().String()})
	defer m.Close()
	if m.Count() != 2 {
		t.Fatalf("expected 2 destinations, got %d", m.Count())
	}

	m.Relay([]byte("frame"))

	buf := make([]byte, 64)
	n, err := a.Read(buf)
	if err != nil || string(buf[:n]) != "frame" {
		t.Fatalf("destination a did not receive frame: n=%d err=%v", n, err)
	}
	n, err = b.Read(buf)
	if err != nil || string(buf[:n]) != "frame" {
		t.Fatalf("destination b did not receive frame: n=%d err=%v", n, err)
	}
}

func TestManager_InvalidDestinationIsSkippedNotFatal(t *testing.T) {
	good := listenUDP(t)
	defer good.Close()

	m := NewManager([]string{"not a valid addr::::", good.LocalAddr().String()})
	defer m.Close()
	if m.Count() != 1 {
		t.Fatalf("expected only the valid destination to register, got %d", m.Count())
	}
}

func TestDestination_StatusReflectsLastSend(t *testing.T) {
	ground := listenUDP(t)
	defer ground.Close()

	d, err := NewDestination(ground.LocalAddr().String(), logger.Logger())
	if err != nil {
		t.Fatalf("NewDestination: %v", err)
	}
	defer d.Close()

	if err := d.Send([]byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if d.GetStatus() != StatusOK {
		t.Fatalf("expected StatusOK after a successful send")
	}
}
