package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestRegistry_ExposesMetricsEndpoint(t *testing.T) {
	r := New("127.0.0.1:0")
	errCh, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	r.Bps.Set(100000)
	r.MaxPacketSize.Set(100)
	r.QueueDepth.WithLabelValues("altitude").Set(3)
	r.SegmentsAcked.Add(5)
	r.SetDownlinkState(DownlinkSending)

	resp, err := http.Get("http://" + r.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(body), "telemetry_bus_downlink_bps 100000") {
		t.Fatalf("expected metrics body to contain downlink_bps series, got: %s", body)
	}
	if !strings.Contains(string(body), `telemetry_bus_unacked_segments{metric_id="altitude"} 3`) {
		t.Fatalf("expected metrics body to contain queue depth series, got: %s", body)
	}

	select {
	case srvErr := <-errCh:
		t.Fatalf("unexpected server error: %v", srvErr)
	default:
	}
}

func TestDownlinkState_Values(t *testing.T) {
	if DownlinkIdle != 0 || DownlinkSending != 1 || DownlinkBackoff != 2 {
		t.Fatalf("unexpected enum values: idle=%v sending=%v backoff=%v", DownlinkIdle, DownlinkSending, DownlinkBackoff)
	}
}
