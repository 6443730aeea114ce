// Package sample defines the tagged-union Sample type ingested from local
// producers and the binary wire codec for every frame shape that carries a
// sample or a primitive value (Ingest, Response, downlink SampleFrame).
package sample

import "fmt"

// MaxMetricIDBytes bounds MetricId on the wire (spec: <=31 bytes).
const MaxMetricIDBytes = 31

// MaxStringPrimitiveBytes bounds a string Primitive value (spec: <=64 bytes).
const MaxStringPrimitiveBytes = 64

// MaxFilePathBytes / MaxFileExtensionBytes bound a File sample's reference.
const (
	MaxFilePathBytes      = 256
	MaxFileExtensionBytes = 8
)

// MetricId uniquely names a measurement stream. Bounded UTF-8, <=31 bytes,
// zero-terminated on the wire (this codec uses a length prefix instead of a
// terminator, which is equivalent and avoids embedded-NUL ambiguity).
type MetricId = string

// Metadata carries the identity and timestamp shared by every sample.
//
// Timestamp is kept as float32 for wire compatibility with the original
// producer population, even though that gives at most ~7 significant
// decimal digits — insufficient for microsecond resolution relative to the
// Unix epoch. This is a known, accepted limitation (see project notes), not
// a bug: widening it would break the wire format's fixed-size framing.
type Metadata struct {
	MetricID  MetricId
	Timestamp float32
}

// PrimitiveKind tags which variant of Primitive is populated.
type PrimitiveKind uint8

const (
	KindInt32 PrimitiveKind = iota + 1
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	KindString
)

func (k PrimitiveKind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Primitive is one of the small fixed-set scalar types the bus transmits by
// value. Exactly one of the Val fields is meaningful, selected by Kind.
type Primitive struct {
	Kind       PrimitiveKind
	Int32Val   int32
	Int64Val   int64
	Float32Val float32
	Float64Val float64
	BoolVal    bool
	StringVal  string
}

func NewInt32(v int32) Primitive     { return Primitive{Kind: KindInt32, Int32Val: v} }
func NewInt64(v int64) Primitive     { return Primitive{Kind: KindInt64, Int64Val: v} }
func NewFloat32(v float32) Primitive { return Primitive{Kind: KindFloat32, Float32Val: v} }
func NewFloat64(v float64) Primitive { return Primitive{Kind: KindFloat64, Float64Val: v} }
func NewBool(v bool) Primitive       { return Primitive{Kind: KindBool, BoolVal: v} }
func NewString(v string) Primitive   { return Primitive{Kind: KindString, StringVal: v} }

// FileRef is a reference to a local artifact to be transmitted, rather than
// a value carried inline. File samples are never served over
// request/response (see EncodeResponse).
type FileRef struct {
	Path      string
	Extension string
}

// Sample is the tagged union ingested from producers: exactly one of
// Primitive or File is non-nil.
type Sample struct {
	Metadata  Metadata
	Primitive *Primitive
	File      *FileRef
}

// IsFile reports whether this sample is a File reference rather than an
// inline primitive value.
func (s *Sample) IsFile() bool { return s.File != nil }
