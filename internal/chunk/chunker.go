// Package chunk splits an encoded sample payload into numbered fixed-max-
// size segments suitable for a single downlink datagram. It does no
// receive-side reassembly.
package chunk

import (
	"fmt"

	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
)

// Chunk is one numbered segment of a Chunker's underlying data.
type Chunk struct {
	Seq    uint32
	Offset int
	Data   []byte
}

// Chunker owns an encoded payload and knows how to split it into
// fixed-max-size segments. The last segment may be shorter than the rest;
// all others are exactly chunkSize.
type Chunker struct {
	data      []byte
	chunkSize int
	numChunks uint32
}

// New constructs a Chunker over data with the given maximum chunk size. It
// fails with an InvariantError-wrapped ErrEmptyData if data is empty, and
// with ErrInvalidChunkSize if chunkSize is not positive — both indicate a
// caller bug, not a runtime condition to recover from.
func New(data []byte, chunkSize int) (*Chunker, error) {
	if len(data) == 0 {
		return nil, telemetryerrors.NewInvariantError("chunk.new", fmt.Errorf("%w", ErrEmptyData))
	}
	if chunkSize <= 0 {
		return nil, telemetryerrors.NewInvariantError("chunk.new", fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize))
	}
	num := (len(data) + chunkSize - 1) / chunkSize
	return &Chunker{data: data, chunkSize: chunkSize, numChunks: uint32(num)}, nil
}

// NumChunks returns the number of segments this Chunker produces. Always
// >= 1 for a non-empty payload.
func (c *Chunker) NumChunks() uint32 { return c.numChunks }

// Chunk returns segment seq. Fails with ErrSeqOutOfRange if
// seq >= NumChunks(). The returned Data slice aliases the Chunker's
// underlying buffer; callers must not mutate it or must copy before the
// Chunker is discarded.
func (c *Chunker) Chunk(seq uint32) (Chunk, error) {
	if seq >= c.numChunks {
		return Chunk{}, telemetryerrors.NewInvariantError("chunk.chunk",
			fmt.Errorf("%w: seq=%d num_chunks=%d", ErrSeqOutOfRange, seq, c.numChunks))
	}
	offset := int(seq) * c.chunkSize
	end := offset + c.chunkSize
	if end > len(c.data) {
		end = len(c.data)
	}
	return Chunk{Seq: seq, Offset: offset, Data: c.data[offset:end]}, nil
}
