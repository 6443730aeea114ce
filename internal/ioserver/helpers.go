package ioserver

import (
	"bytes"

	"github.com/fissellab/bcp-telemetry/internal/sample"
)

// encodeAbsentResponse encodes a Response frame whose primitive is absent,
// used for unknown-metric requests per §7's UnknownMetric policy.
func encodeAbsentResponse(metricID sample.MetricId) ([]byte, error) {
	var buf bytes.Buffer
	if err := sample.EncodeResponse(&buf, metricID, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
