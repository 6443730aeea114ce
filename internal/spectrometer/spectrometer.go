// Package spectrometer polls the POSIX shared-memory hand-off region a
// separate spectrometer DSP process writes to (spec §6.6) and republishes
// its data into the registry through the same add_sample path any other
// producer uses. The DSP itself (FFT, baseline subtraction) is out of
// scope; only the hand-off contract is implemented here.
package spectrometer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/fissellab/bcp-telemetry/internal/sample"
)

// DefaultSHMName is the POSIX shared-memory object name the spectrometer
// process writes to. On Linux, glibc's shm_open backs names of this form
// with a file under /dev/shm.
const DefaultSHMName = "/bcp_spectrometer_data"

// MetricID is the registry metric the poller republishes under.
const MetricID sample.MetricId = "spectrometer"

// Layout offsets assume the producer's struct uses natural 8-byte alignment
// for the first double field (no explicit packing), matching a typical C
// struct compiled for x86_64/aarch64:
//
//	ready       u8      @0
//	active_type u8      @1
//	(6 bytes padding to the next 8-byte boundary)
//	timestamp   f64     @8
//	data_size   u32     @16
//	(4 bytes padding)
//	baseline    f64     @24
//	data        f64[N]  @32
const (
	offReady      = 0
	offActiveType = 1
	offTimestamp  = 8
	offDataSize   = 16
	offBaseline   = 24
	offData       = 32

	// MaxDataPoints bounds the data array (spec §6.6: f64[16384]).
	MaxDataPoints = 16384

	regionSize = offData + MaxDataPoints*8
)

// ActiveType mirrors the producer's active_type enum.
type ActiveType uint8

const (
	TypeNone ActiveType = iota
	TypeStandard
	TypeHighRes
)

// Reading is one decoded hand-off snapshot.
type Reading struct {
	ActiveType ActiveType
	Timestamp  float64
	DataSize   uint32
	Baseline   float64
	Data       []float64
}

// Region is the mmap'd shared-memory hand-off buffer.
type Region struct {
	file *os.File
	mem  []byte
}

// OpenRegion maps the shared-memory object named shmName (e.g.
// DefaultSHMName) for reading and clearing the ready flag. The object must
// already exist; this poller is a consumer, never the creator.
func OpenRegion(shmName string) (*Region, error) {
	path := shmPath(shmName)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spectrometer: open shared memory %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("spectrometer: mmap %s: %w", path, err)
	}
	return &Region{file: f, mem: mem}, nil
}

// shmPath resolves a POSIX shared-memory name to its backing path under
// /dev/shm, the Linux convention glibc's shm_open uses.
func shmPath(shmName string) string {
	return filepath.Join("/dev/shm", filepath.Base(shmName))
}

// Close unmaps the region and closes its backing file descriptor.
func (r *Region) Close() error {
	if err := unix.Munmap(r.mem); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Poll checks the ready flag; if set, it copies out a Reading, clears the
// flag, and returns (reading, true). Otherwise it returns (zero, false)
// without blocking — this is the non-blocking poll spec.md §9 calls for.
func (r *Region) Poll() (Reading, bool) {
	if r.mem[offReady] == 0 {
		return Reading{}, false
	}

	activeType := ActiveType(r.mem[offActiveType])
	ts := math.Float64frombits(binary.LittleEndian.Uint64(r.mem[offTimestamp:]))
	dataSize := binary.LittleEndian.Uint32(r.mem[offDataSize:])
	baseline := math.Float64frombits(binary.LittleEndian.Uint64(r.mem[offBaseline:]))

	n := int(dataSize / 8)
	if n > MaxDataPoints {
		n = MaxDataPoints
	}
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(r.mem[offData+i*8:]))
	}

	r.mem[offReady] = 0

	return Reading{
		ActiveType: activeType,
		Timestamp:  ts,
		DataSize:   dataSize,
		Baseline:   baseline,
		Data:       data,
	}, true
}
