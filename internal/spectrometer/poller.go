package spectrometer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/sample"
)

// sampleAdder is the subset of *registry.Registry the poller needs,
// declared locally for unit testing with a stub rather than a live
// registry.
type sampleAdder interface {
	AddSample(s *sample.Sample) error
}

// Poller periodically checks the hand-off region and republishes any
// reading it finds as a File sample: at up to 16384 float64 values, a
// reading is far too large for a Primitive (<=64 bytes), so it is written
// to a spool file and handed to the registry by reference, the same way
// any other bulk-data producer would.
type Poller struct {
	region   *Region
	reg      sampleAdder
	spoolDir string
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPoller creates a Poller over region, publishing into reg and spooling
// reading files under spoolDir, checked every interval.
func NewPoller(region *Region, reg sampleAdder, spoolDir string, interval time.Duration) *Poller {
	return &Poller{
		region:   region,
		reg:      reg,
		spoolDir: spoolDir,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the poll loop on a ticker in a background goroutine, the Go
// analogue of a periodic task on the reactor: it never blocks the I/O
// servers, since it only ever touches the registry through AddSample.
func (p *Poller) Start() {
	go p.loop()
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Poller) loop() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	reading, ok := p.region.Poll()
	if !ok {
		return
	}
	ref, err := p.spool(reading)
	if err != nil {
		logger.Error("spectrometer: failed to spool reading", "error", err)
		return
	}
	s := &sample.Sample{
		Metadata: sample.Metadata{MetricID: MetricID, Timestamp: float32(reading.Timestamp)},
		File:     ref,
	}
	if err := p.reg.AddSample(s); err != nil {
		logger.Error("spectrometer: failed to add sample", "error", err)
	}
}

// spool writes reading.Data as raw little-endian float64s to a new file
// under spoolDir and returns a FileRef to it.
func (p *Poller) spool(reading Reading) (*sample.FileRef, error) {
	if err := os.MkdirAll(p.spoolDir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir spool dir: %w", err)
	}
	name := fmt.Sprintf("spectrometer-%d.spec", time.Now().UnixNano())
	path := filepath.Join(p.spoolDir, name)

	buf := make([]byte, len(reading.Data)*8)
	for i, v := range reading.Data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return nil, fmt.Errorf("write spool file: %w", err)
	}
	return &sample.FileRef{Path: path, Extension: "spec"}, nil
}
