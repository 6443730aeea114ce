//go:build ignore

// Generation script for golden test vectors (downlink SampleFrame segments
// and Request/Response frames). Deterministic (no randomness) so CI can
// validate byte-for-byte.
// Run: go run tests/golden/gen_sampleframe_vectors.go
package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fissellab/bcp-telemetry/internal/sample"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	outDir := filepath.Join("tests", "golden")
	must(os.MkdirAll(outDir, 0o755))

	// 1. A single-segment SampleFrame carrying a float64 primitive.
	{
		var buf bytes.Buffer
		must(sample.EncodeSampleFrame(&buf, &sample.SampleFrame{
			MetricID:    "altitude",
			Timestamp:   1000.0,
			SampleID:    1,
			NumSegments: 1,
			Seqnum:      0,
			Data:        []byte{0x04, 0x40, 0x5e, 0xdc, 0x00, 0x00, 0x00, 0x00, 0x00},
		}))
		must(os.WriteFile(filepath.Join(outDir, "sampleframe_single_segment.bin"), buf.Bytes(), 0o644))
	}

	// 2. A mid-sequence segment of a 10-segment chunked transfer (S3).
	{
		var buf bytes.Buffer
		must(sample.EncodeSampleFrame(&buf, &sample.SampleFrame{
			MetricID:    "spectrum",
			Timestamp:   2000.5,
			SampleID:    7,
			NumSegments: 10,
			Seqnum:      4,
			Data:        bytes.Repeat([]byte{0xAB}, 20),
		}))
		must(os.WriteFile(filepath.Join(outDir, "sampleframe_chunk_mid.bin"), buf.Bytes(), 0o644))
	}

	// 3. Request frame for a metric_id.
	{
		var buf bytes.Buffer
		must(sample.EncodeRequest(&buf, "altitude"))
		must(os.WriteFile(filepath.Join(outDir, "request_altitude.bin"), buf.Bytes(), 0o644))
	}

	// 4. Response frame carrying a float64 value (S1 scenario).
	{
		var buf bytes.Buffer
		v := sample.NewFloat64(123.5)
		must(sample.EncodeResponse(&buf, "altitude", &v))
		must(os.WriteFile(filepath.Join(outDir, "response_altitude_float64.bin"), buf.Bytes(), 0o644))
	}

	// 5. Response frame for an unknown/unservable metric (absent marker).
	{
		var buf bytes.Buffer
		must(sample.EncodeResponse(&buf, "unknown", nil))
		must(os.WriteFile(filepath.Join(outDir, "response_absent.bin"), buf.Bytes(), 0o644))
	}
}
