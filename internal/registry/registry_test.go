package registry

import (
	"testing"

	"github.com/fissellab/bcp-telemetry/internal/sample"
)

func primitiveSample(metricID string, ts float32, v float64) *sample.Sample {
	p := sample.NewFloat64(v)
	return &sample.Sample{
		Metadata:  sample.Metadata{MetricID: metricID, Timestamp: ts},
		Primitive: &p,
	}
}

// TestRegistry_LatestWins matches scenario S2: the second ingest for the
// same metric, before any downlink, is what the request responder serves.
func TestRegistry_LatestWins(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("altitude", 1.0, 1.0)); err != nil {
		t.Fatalf("AddSample 1: %v", err)
	}
	if err := r.AddSample(primitiveSample("altitude", 2.0, 2.0)); err != nil {
		t.Fatalf("AddSample 2: %v", err)
	}
	resp, ok := r.GetLatestSampleResponse("altitude")
	if !ok {
		t.Fatalf("expected metric to exist")
	}
	metricID, prim, err := sample.DecodeResponse(resp)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if metricID != "altitude" {
		t.Fatalf("metric_id mismatch: %q", metricID)
	}
	if prim == nil || prim.Float64Val != 2.0 {
		t.Fatalf("expected latest value 2.0, got %+v", prim)
	}
}

// TestRegistry_S1_SinglePrimitiveRoundTrip matches scenario S1.
func TestRegistry_S1_SinglePrimitiveRoundTrip(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("altitude", 1000.0, 123.5)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	resp, ok := r.GetLatestSampleResponse("altitude")
	if !ok {
		t.Fatalf("expected metric to exist")
	}
	_, prim, err := sample.DecodeResponse(resp)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if prim == nil || prim.Float64Val != 123.5 {
		t.Fatalf("expected 123.5, got %+v", prim)
	}
}

func TestRegistry_UnknownMetric_ResponseAbsent(t *testing.T) {
	r := New(100000, 100)
	_, ok := r.GetLatestSampleResponse("nonexistent")
	if ok {
		t.Fatalf("expected unknown metric to return ok=false")
	}
}

func TestRegistry_FileSample_ResponseAbsent(t *testing.T) {
	r := New(100000, 100)
	s := &sample.Sample{
		Metadata: sample.Metadata{MetricID: "spectrometer_dump", Timestamp: 1.0},
		File:     &sample.FileRef{Path: "/data/a.bin", Extension: "bin"},
	}
	if err := r.AddSample(s); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	resp, ok := r.GetLatestSampleResponse("spectrometer_dump")
	if !ok {
		t.Fatalf("expected metric to exist")
	}
	_, prim, err := sample.DecodeResponse(resp)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if prim != nil {
		t.Fatalf("expected absent primitive for a file sample, got %+v", prim)
	}
}

func TestRegistry_GetPacketForMetric_HandoffSetsLatestDownlinked(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("pressure", 1.0, 42.0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	pkt, _, err := r.GetPacketForMetric("pressure")
	if err != nil {
		t.Fatalf("GetPacketForMetric: %v", err)
	}
	if pkt == nil {
		t.Fatalf("expected a packet on first fetch")
	}
	r.mu.RLock()
	downlinked := r.metrics["pressure"].LatestDownlinked
	r.mu.RUnlock()
	if !downlinked {
		t.Fatalf("expected latest_downlinked to flip to true after hand-off")
	}
}

func TestRegistry_GetPacketForMetric_UnknownMetricReturnsNil(t *testing.T) {
	r := New(100000, 100)
	pkt, _, err := r.GetPacketForMetric("nope")
	if err != nil {
		t.Fatalf("GetPacketForMetric: %v", err)
	}
	if pkt != nil {
		t.Fatalf("expected nil packet for unknown metric")
	}
}

func TestRegistry_HandleAck_UnknownMetricIsNoop(t *testing.T) {
	r := New(100000, 100)
	r.HandleAck(Ack{MetricID: "nope", SampleID: 1, Seqnums: []uint32{0}})
}

func TestRegistry_SegmentsAckedHook_FiresWithRemovedCount(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("altitude", 1.0, 1.0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	pkt, _, err := r.GetPacketForMetric("altitude")
	if err != nil || pkt == nil {
		t.Fatalf("GetPacketForMetric: pkt=%v err=%v", pkt, err)
	}

	var fired int
	r.SetSegmentsAckedHook(func(count int) { fired += count })

	r.HandleAck(Ack{MetricID: "altitude", SampleID: 1, Seqnums: []uint32{0}})
	if fired != 1 {
		t.Fatalf("expected hook to report 1 removed segment, got %d", fired)
	}

	r.HandleAck(Ack{MetricID: "nope", SampleID: 1, Seqnums: []uint32{0}})
	if fired != 1 {
		t.Fatalf("expected hook not to fire for an unknown metric, got %d", fired)
	}
}

func TestRegistry_BpsAndMaxPacketSizeAccessors(t *testing.T) {
	r := New(100000, 100)
	if r.Bps() != 100000 {
		t.Fatalf("expected initial bps 100000, got %d", r.Bps())
	}
	r.SetBps(50000)
	if r.Bps() != 50000 {
		t.Fatalf("expected bps 50000 after SetBps, got %d", r.Bps())
	}
	if r.MaxPacketSize() != 100 {
		t.Fatalf("expected initial max_packet_size 100, got %d", r.MaxPacketSize())
	}
	r.SetMaxPacketSize(200)
	if r.MaxPacketSize() != 200 {
		t.Fatalf("expected max_packet_size 200 after SetMaxPacketSize, got %d", r.MaxPacketSize())
	}
}

func TestMetricIterator_InsertionOrderAndWraparound(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("a", 1.0, 1)); err != nil {
		t.Fatalf("AddSample a: %v", err)
	}
	if err := r.AddSample(primitiveSample("b", 1.0, 2)); err != nil {
		t.Fatalf("AddSample b: %v", err)
	}
	it := r.Iterator()
	var seen []sample.MetricId
	for i := 0; i < 4; i++ {
		id, threshold, ok := it.Next()
		if !ok {
			t.Fatalf("expected ok=true at iteration %d", i)
		}
		if threshold != DefaultTokenThreshold {
			t.Fatalf("expected default token_threshold, got %d", threshold)
		}
		seen = append(seen, id)
	}
	want := []sample.MetricId{"a", "b", "a", "b"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("iteration order mismatch at %d: got %q want %q", i, seen[i], want[i])
		}
	}
}

func TestMetricIterator_EmptyRegistry(t *testing.T) {
	r := New(100000, 100)
	it := r.Iterator()
	if _, _, ok := it.Next(); ok {
		t.Fatalf("expected ok=false on an empty registry")
	}
}

func TestMetricIterator_SeesMetricsAddedAfterConstruction(t *testing.T) {
	r := New(100000, 100)
	it := r.Iterator()
	if _, _, ok := it.Next(); ok {
		t.Fatalf("expected ok=false before any metric exists")
	}
	if err := r.AddSample(primitiveSample("late", 1.0, 1)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	id, _, ok := it.Next()
	if !ok || id != "late" {
		t.Fatalf("expected iterator to see metric added after construction, got %q ok=%v", id, ok)
	}
}

func TestRegistry_AddSample_NilRejected(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(nil); err == nil {
		t.Fatalf("expected error adding a nil sample")
	}
}

func TestRegistry_Snapshot_ReflectsLatestDownlinkedAndUnacked(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("altitude", 1.0, 42.0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if err := r.AddSample(primitiveSample("pressure", 2.0, 7.0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}

	before := r.Snapshot()
	if len(before) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(before))
	}
	if before[0].MetricID != "altitude" || before[0].LatestDownlinked {
		t.Fatalf("expected altitude not yet downlinked, got %+v", before[0])
	}
	if before[0].UnackedSegments != 0 {
		t.Fatalf("expected no unacked segments before any pop, got %d", before[0].UnackedSegments)
	}

	pkt, _, err := r.GetPacketForMetric("altitude")
	if err != nil || pkt == nil {
		t.Fatalf("GetPacketForMetric: pkt=%v err=%v", pkt, err)
	}

	after := r.Snapshot()
	if !after[0].LatestDownlinked {
		t.Fatalf("expected altitude to be marked downlinked after a pop")
	}
	if after[0].UnackedSegments != 1 {
		t.Fatalf("expected 1 unacked segment after a single-chunk pop, got %d", after[0].UnackedSegments)
	}
	if after[0].SampleTimestamp != 1.0 {
		t.Fatalf("expected sample timestamp 1.0, got %v", after[0].SampleTimestamp)
	}
}

func TestRegistry_InitialTokenThresholds_AppliedOnlyToNewMetrics(t *testing.T) {
	r := New(100000, 100)
	if err := r.AddSample(primitiveSample("a", 1.0, 1)); err != nil {
		t.Fatalf("AddSample a: %v", err)
	}
	r.SetInitialTokenThresholds(map[string]uint32{"b": 5})
	if err := r.AddSample(primitiveSample("b", 1.0, 2)); err != nil {
		t.Fatalf("AddSample b: %v", err)
	}

	r.mu.RLock()
	aThreshold := r.metrics["a"].TokenThreshold
	bThreshold := r.metrics["b"].TokenThreshold
	r.mu.RUnlock()

	if aThreshold != DefaultTokenThreshold {
		t.Fatalf("expected metric a to keep the default threshold, got %d", aThreshold)
	}
	if bThreshold != 5 {
		t.Fatalf("expected metric b to get its configured threshold 5, got %d", bThreshold)
	}
}

func TestRegistry_MetricCreatedHook_FiresOnceOnFirstSampleOnly(t *testing.T) {
	r := New(100000, 100)
	var created []string
	r.SetMetricCreatedHook(func(id string) { created = append(created, id) })

	if err := r.AddSample(primitiveSample("altitude", 1.0, 1.0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if err := r.AddSample(primitiveSample("altitude", 2.0, 2.0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}

	if len(created) != 1 || created[0] != "altitude" {
		t.Fatalf("expected metric.created to fire exactly once for altitude, got %v", created)
	}
}
