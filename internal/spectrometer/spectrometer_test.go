package spectrometer

import (
	"encoding/binary"
	"math"
	"testing"
)

// newTestRegion builds a Region backed by a plain byte slice rather than an
// mmap'd file, so Poll's decode logic can be exercised without touching
// /dev/shm.
func newTestRegion() *Region {
	return &Region{mem: make([]byte, regionSize)}
}

func (r *Region) writeReading(activeType ActiveType, ts float64, data []float64, baseline float64) {
	r.mem[offActiveType] = byte(activeType)
	binary.LittleEndian.PutUint64(r.mem[offTimestamp:], math.Float64bits(ts))
	binary.LittleEndian.PutUint32(r.mem[offDataSize:], uint32(len(data)*8))
	binary.LittleEndian.PutUint64(r.mem[offBaseline:], math.Float64bits(baseline))
	for i, v := range data {
		binary.LittleEndian.PutUint64(r.mem[offData+i*8:], math.Float64bits(v))
	}
	r.mem[offReady] = 1
}

func TestRegion_Poll_NotReadyReturnsFalse(t *testing.T) {
	r := newTestRegion()
	if _, ok := r.Poll(); ok {
		t.Fatalf("expected Poll to return false when ready flag is unset")
	}
}

func TestRegion_Poll_DecodesAndClearsReady(t *testing.T) {
	r := newTestRegion()
	data := []float64{1.5, 2.5, 3.5}
	r.writeReading(TypeHighRes, 12345.5, data, 0.25)

	reading, ok := r.Poll()
	if !ok {
		t.Fatalf("expected Poll to report a ready reading")
	}
	if reading.ActiveType != TypeHighRes {
		t.Fatalf("expected TypeHighRes, got %v", reading.ActiveType)
	}
	if reading.Timestamp != 12345.5 {
		t.Fatalf("expected timestamp 12345.5, got %v", reading.Timestamp)
	}
	if reading.Baseline != 0.25 {
		t.Fatalf("expected baseline 0.25, got %v", reading.Baseline)
	}
	if len(reading.Data) != 3 || reading.Data[0] != 1.5 || reading.Data[2] != 3.5 {
		t.Fatalf("unexpected data: %v", reading.Data)
	}

	if r.mem[offReady] != 0 {
		t.Fatalf("expected ready flag cleared after Poll")
	}
	if _, ok := r.Poll(); ok {
		t.Fatalf("expected second Poll to report not-ready")
	}
}

func TestRegion_Poll_ClampsOversizedDataSize(t *testing.T) {
	r := newTestRegion()
	binary.LittleEndian.PutUint32(r.mem[offDataSize:], uint32((MaxDataPoints+100)*8))
	r.mem[offReady] = 1

	reading, ok := r.Poll()
	if !ok {
		t.Fatalf("expected Poll to succeed")
	}
	if len(reading.Data) != MaxDataPoints {
		t.Fatalf("expected data clamped to %d points, got %d", MaxDataPoints, len(reading.Data))
	}
}
