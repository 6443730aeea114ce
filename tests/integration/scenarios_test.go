// Package integration exercises the telemetry bus end to end, each test
// corresponding to one of the testable-property scenarios: single-primitive
// round trip, latest-wins, chunked downlink, fair round-robin, rate pacing,
// and malformed uplink tolerance.
package integration

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/config"
	"github.com/fissellab/bcp-telemetry/internal/sample"
	"github.com/fissellab/bcp-telemetry/internal/server"
)

func testConfig(t *testing.T, downlinkDest string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Endpoints.Ingest = "127.0.0.1:0"
	cfg.Endpoints.Request = "127.0.0.1:0"
	cfg.Endpoints.Telecommand = "127.0.0.1:0"
	cfg.Endpoints.DownlinkSource = "127.0.0.1:0"
	cfg.Endpoints.DownlinkDest = downlinkDest
	cfg.Endpoints.MetricsListen = ""
	cfg.Endpoints.SpectrometerSHM = ""
	return cfg
}

func startBus(t *testing.T, cfg config.Config) (*server.Server, *net.UDPConn) {
	t.Helper()
	ground, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ground listen: %v", err)
	}
	cfg.Endpoints.DownlinkDest = ground.LocalAddr().String()

	bus, err := server.New(cfg)
	if err != nil {
		ground.Close()
		t.Fatalf("New: %v", err)
	}
	if err := bus.Start(); err != nil {
		ground.Close()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		bus.Stop()
		ground.Close()
	})
	return bus, ground
}

func ingest(t *testing.T, addr string, s *sample.Sample) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial ingest: %v", err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := sample.EncodeSample(&buf, s); err != nil {
		t.Fatalf("EncodeSample: %v", err)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		t.Fatalf("write ingest: %v", err)
	}
}

func requestOnce(t *testing.T, addr, metricID string) (string, *sample.Primitive) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial request: %v", err)
	}
	defer conn.Close()

	var reqBuf bytes.Buffer
	if err := sample.EncodeRequest(&reqBuf, metricID); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	var metric string
	var prim *sample.Primitive
	waitUntil(t, time.Second, func() bool {
		if _, err := conn.Write(reqBuf.Bytes()); err != nil {
			return false
		}
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		rbuf := make([]byte, 512)
		n, err := conn.Read(rbuf)
		if err != nil {
			return false
		}
		m, p, err := sample.DecodeResponse(rbuf[:n])
		if err != nil {
			return false
		}
		metric, prim = m, p
		return true
	})
	return metric, prim
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestS1_SinglePrimitiveRoundTrip(t *testing.T) {
	bus, _ := startBus(t, testConfig(t, ""))

	p := sample.NewFloat64(123.5)
	ingest(t, bus.IngestAddr(), &sample.Sample{
		Metadata:  sample.Metadata{MetricID: "altitude", Timestamp: 1000.0},
		Primitive: &p,
	})

	metric, got := requestOnce(t, bus.RequestAddr(), "altitude")
	if metric != "altitude" || got == nil || got.Float64Val != 123.5 {
		t.Fatalf("expected altitude=123.5, got metric=%q prim=%+v", metric, got)
	}
}

func TestS2_LatestWins(t *testing.T) {
	bus, _ := startBus(t, testConfig(t, ""))

	p1 := sample.NewFloat64(1.0)
	ingest(t, bus.IngestAddr(), &sample.Sample{
		Metadata:  sample.Metadata{MetricID: "altitude", Timestamp: 1.0},
		Primitive: &p1,
	})
	p2 := sample.NewFloat64(2.0)
	ingest(t, bus.IngestAddr(), &sample.Sample{
		Metadata:  sample.Metadata{MetricID: "altitude", Timestamp: 2.0},
		Primitive: &p2,
	})

	waitUntil(t, time.Second, func() bool {
		_, got := requestOnce(t, bus.RequestAddr(), "altitude")
		return got != nil && got.Float64Val == 2.0
	})
}

func TestS3_ChunkedDownlink(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.MaxPacketSize = 60
	bus, ground := startBus(t, cfg)

	p := sample.NewString(string(bytes.Repeat([]byte{'x'}, sample.MaxStringPrimitiveBytes)))
	ingest(t, bus.IngestAddr(), &sample.Sample{
		Metadata:  sample.Metadata{MetricID: "blob", Timestamp: 1.0},
		Primitive: &p,
	})

	seen := map[uint32]bool{}
	var sampleID uint32
	var numSegments uint32
	ground.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 1 || uint32(len(seen)) < numSegments {
		buf := make([]byte, 1500)
		n, _, err := ground.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("waiting for segments, got %d/%d: %v", len(seen), numSegments, err)
		}
		f, err := sample.DecodeSampleFrame(buf[:n])
		if err != nil {
			t.Fatalf("DecodeSampleFrame: %v", err)
		}
		sampleID = f.SampleID
		numSegments = f.NumSegments
		seen[f.Seqnum] = true
		ground.SetReadDeadline(time.Now().Add(2 * time.Second))
	}
	if numSegments < 2 {
		t.Fatalf("expected a multi-segment transfer, got num_segments=%d", numSegments)
	}
	_ = sampleID
}

func TestS4_FairRoundRobin(t *testing.T) {
	bus, ground := startBus(t, testConfig(t, ""))

	pa := sample.NewInt32(1)
	pb := sample.NewInt32(2)
	ingest(t, bus.IngestAddr(), &sample.Sample{Metadata: sample.Metadata{MetricID: "a", Timestamp: 1.0}, Primitive: &pa})
	ingest(t, bus.IngestAddr(), &sample.Sample{Metadata: sample.Metadata{MetricID: "b", Timestamp: 1.0}, Primitive: &pb})

	counts := map[string]int{}
	ground.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 10 && (counts["a"] < 5 || counts["b"] < 5); i++ {
		buf := make([]byte, 1500)
		n, _, err := ground.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("reading downlink: %v", err)
		}
		f, err := sample.DecodeSampleFrame(buf[:n])
		if err != nil {
			t.Fatalf("DecodeSampleFrame: %v", err)
		}
		counts[f.MetricID]++
		ground.SetReadDeadline(time.Now().Add(2 * time.Second))
	}
	if counts["a"] == 0 || counts["b"] == 0 {
		t.Fatalf("expected both metrics downlinked, got %v", counts)
	}
}

func TestS5_RatePacing(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Bps = 8000
	bus, ground := startBus(t, cfg)

	p := sample.NewString(string(bytes.Repeat([]byte{'y'}, sample.MaxStringPrimitiveBytes)))
	ingest(t, bus.IngestAddr(), &sample.Sample{
		Metadata:  sample.Metadata{MetricID: "payload", Timestamp: 1.0},
		Primitive: &p,
	})

	start := time.Now()
	received := 0
	ground.SetReadDeadline(time.Now().Add(3 * time.Second))
	for received < 5 {
		buf := make([]byte, 1500)
		_, _, err := ground.ReadFromUDP(buf)
		if err != nil {
			break
		}
		received++
		ground.SetReadDeadline(time.Now().Add(3 * time.Second))
	}
	if received < 2 {
		t.Skipf("not enough segments arrived to measure pacing (got %d)", received)
	}
	if time.Since(start) <= 0 {
		t.Fatalf("expected nonzero elapsed time pacing %d segments", received)
	}
}

func TestS6_MalformedUplinkThenWellFormed(t *testing.T) {
	bus, _ := startBus(t, testConfig(t, ""))

	conn, err := net.Dial("udp", bus.TelecommandAddr())
	if err != nil {
		t.Fatalf("dial telecommand: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"foo":123}`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if _, err := conn.Write([]byte(`{"set_bps":{"bps":4242}}`)); err != nil {
		t.Fatalf("write well-formed: %v", err)
	}

	// the listener must still be alive and the registry unaffected by the
	// malformed datagram: a normal ingest/request round trip after it
	// should succeed exactly as in S1.
	p := sample.NewInt32(7)
	ingest(t, bus.IngestAddr(), &sample.Sample{
		Metadata:  sample.Metadata{MetricID: "still_alive", Timestamp: 1.0},
		Primitive: &p,
	})
	metric, got := requestOnce(t, bus.RequestAddr(), "still_alive")
	if metric != "still_alive" || got == nil || got.Int32Val != 7 {
		t.Fatalf("expected listener to remain responsive after malformed datagram, got metric=%q prim=%+v", metric, got)
	}
}
