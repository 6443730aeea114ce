package errors

import (
	stdErrors "errors"
	"fmt"
)

// telemetryMarker is implemented by all domain error types so callers can
// classify an error without a type switch over every concrete type.
type telemetryMarker interface {
	error
	isTelemetry()
}

// DecodeError indicates a malformed datagram (ingest, request, telecommand,
// or downlink wire format). Policy at the call site: log with a hex preview
// of the first bytes, drop the datagram, keep the server loop running.
type DecodeError struct {
	Op  string // e.g. "ingest.decode", "telecommand.decode"
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode error: %s", e.Op)
	}
	return fmt.Sprintf("decode error: %s: %v", e.Op, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }
func (e *DecodeError) isTelemetry()  {}

// UnknownMetricError indicates an ACK or request referenced a metric_id that
// has never produced a sample. Request callers turn this into an absent-
// primitive Response; ACK callers log and drop.
type UnknownMetricError struct {
	Op       string
	MetricID string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("unknown metric: %s: metric_id=%q", e.Op, e.MetricID)
}
func (e *UnknownMetricError) isTelemetry() {}

// WrongResponseTypeError indicates a request was served against a metric
// whose latest sample is a File sample; only Primitive samples may be
// served over request/response.
type WrongResponseTypeError struct {
	MetricID string
}

func (e *WrongResponseTypeError) Error() string {
	return fmt.Sprintf("metric %q holds a file sample, not servable as a response", e.MetricID)
}
func (e *WrongResponseTypeError) isTelemetry() {}

// BindError indicates a UDP socket failed to bind at startup. Fatal: the
// process cannot start the affected server.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind error: %s: %v", e.Addr, e.Err)
}
func (e *BindError) Unwrap() error { return e.Err }
func (e *BindError) isTelemetry()  {}

// SocketError indicates a send/receive failure on an already-bound socket.
// Recoverable during operation: UDP has no connection state to lose, so the
// owning server logs and continues its loop.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket error: %s: %v", e.Op, e.Err)
}
func (e *SocketError) Unwrap() error { return e.Err }
func (e *SocketError) isTelemetry()  {}

// InvariantError marks a coding error at a module boundary that the design
// treats as unrecoverable (e.g. requesting a chunk sequence number beyond
// num_chunks). Call sites return it as a normal error; nothing in the bus
// panics with it.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated: %s: %v", e.Op, e.Err)
}
func (e *InvariantError) Unwrap() error { return e.Err }
func (e *InvariantError) isTelemetry()  {}

// IsTelemetryError returns true if the error chain contains any domain
// error type defined in this package.
func IsTelemetryError(err error) bool {
	if err == nil {
		return false
	}
	var tm telemetryMarker
	return stdErrors.As(err, &tm)
}

// IsUnknownMetric reports whether err is (or wraps) an UnknownMetricError.
func IsUnknownMetric(err error) bool {
	var um *UnknownMetricError
	return stdErrors.As(err, &um)
}

// Constructors (encourage contextual wrapping with %w when used by callers).
func NewDecodeError(op string, cause error) error { return &DecodeError{Op: op, Err: cause} }
func NewUnknownMetricError(op, metricID string) error {
	return &UnknownMetricError{Op: op, MetricID: metricID}
}
func NewWrongResponseTypeError(metricID string) error {
	return &WrongResponseTypeError{MetricID: metricID}
}
func NewBindError(addr string, cause error) error { return &BindError{Addr: addr, Err: cause} }
func NewSocketError(op string, cause error) error  { return &SocketError{Op: op, Err: cause} }
func NewInvariantError(op string, cause error) error {
	return &InvariantError{Op: op, Err: cause}
}
