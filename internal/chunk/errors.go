package chunk

import stdErrors "errors"

var (
	// ErrEmptyData is wrapped by an InvariantError when New is called with
	// a zero-length payload — splitting nothing into segments is a caller
	// bug, not a condition to recover from at runtime.
	ErrEmptyData = stdErrors.New("chunk: data cannot be empty")

	// ErrInvalidChunkSize is wrapped when New is called with a non-positive
	// chunk size.
	ErrInvalidChunkSize = stdErrors.New("chunk: chunk size must be positive")

	// ErrSeqOutOfRange is wrapped when Chunk is asked for a segment beyond
	// NumChunks.
	ErrSeqOutOfRange = stdErrors.New("chunk: seq out of range")
)
