package sample

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
)

// Wire type markers. One byte identifies which Primitive variant (or File)
// follows, mirroring an AMF0-style marker-tagged encoding but with a
// fixed, small variant set matched to this domain instead of a general
// dynamic type system.
const (
	markerInt32   = 0x01
	markerInt64   = 0x02
	markerFloat32 = 0x03
	markerFloat64 = 0x04
	markerBool    = 0x05
	markerString  = 0x06
	markerFile    = 0x10

	// markerAbsent marks a Response whose metric has no servable primitive
	// (unknown metric, or latest sample is a File).
	markerAbsent = 0x00
)

func encodeMetricID(w io.Writer, id MetricId) error {
	b := []byte(id)
	if len(b) > MaxMetricIDBytes {
		return telemetryerrors.NewDecodeError("encode.metric_id.length",
			fmt.Errorf("metric_id %q length %d exceeds %d", id, len(b), MaxMetricIDBytes))
	}
	if _, err := w.Write([]byte{byte(len(b))}); err != nil {
		return telemetryerrors.NewDecodeError("encode.metric_id.length.write", err)
	}
	if len(b) > 0 {
		if _, err := w.Write(b); err != nil {
			return telemetryerrors.NewDecodeError("encode.metric_id.write", err)
		}
	}
	return nil
}

func decodeMetricID(r io.Reader) (MetricId, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", telemetryerrors.NewDecodeError("decode.metric_id.length.read", err)
	}
	n := int(lenBuf[0])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", telemetryerrors.NewDecodeError("decode.metric_id.read", err)
	}
	return string(buf), nil
}

// encodePrimitive writes a variant marker followed by its payload.
func encodePrimitive(w io.Writer, p *Primitive) error {
	switch p.Kind {
	case KindInt32:
		var buf [1 + 4]byte
		buf[0] = markerInt32
		binary.BigEndian.PutUint32(buf[1:], uint32(p.Int32Val))
		_, err := w.Write(buf[:])
		return wrapEncode(err, "encode.primitive.int32")
	case KindInt64:
		var buf [1 + 8]byte
		buf[0] = markerInt64
		binary.BigEndian.PutUint64(buf[1:], uint64(p.Int64Val))
		_, err := w.Write(buf[:])
		return wrapEncode(err, "encode.primitive.int64")
	case KindFloat32:
		var buf [1 + 4]byte
		buf[0] = markerFloat32
		binary.BigEndian.PutUint32(buf[1:], math.Float32bits(p.Float32Val))
		_, err := w.Write(buf[:])
		return wrapEncode(err, "encode.primitive.float32")
	case KindFloat64:
		var buf [1 + 8]byte
		buf[0] = markerFloat64
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(p.Float64Val))
		_, err := w.Write(buf[:])
		return wrapEncode(err, "encode.primitive.float64")
	case KindBool:
		var buf [2]byte
		buf[0] = markerBool
		if p.BoolVal {
			buf[1] = 1
		}
		_, err := w.Write(buf[:])
		return wrapEncode(err, "encode.primitive.bool")
	case KindString:
		b := []byte(p.StringVal)
		if len(b) > MaxStringPrimitiveBytes {
			return telemetryerrors.NewDecodeError("encode.primitive.string.length",
				fmt.Errorf("string length %d exceeds %d", len(b), MaxStringPrimitiveBytes))
		}
		var hdr [2]byte
		hdr[0] = markerString
		hdr[1] = byte(len(b))
		if _, err := w.Write(hdr[:]); err != nil {
			return wrapEncode(err, "encode.primitive.string.header")
		}
		if len(b) > 0 {
			if _, err := w.Write(b); err != nil {
				return wrapEncode(err, "encode.primitive.string.body")
			}
		}
		return nil
	default:
		return telemetryerrors.NewDecodeError("encode.primitive.kind",
			fmt.Errorf("unknown primitive kind %v", p.Kind))
	}
}

func wrapEncode(err error, op string) error {
	if err == nil {
		return nil
	}
	return telemetryerrors.NewDecodeError(op, err)
}

func decodePrimitive(r io.Reader) (*Primitive, error) {
	var m [1]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.primitive.marker.read", err)
	}
	switch m[0] {
	case markerInt32:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.primitive.int32", err)
		}
		v := NewInt32(int32(binary.BigEndian.Uint32(buf[:])))
		return &v, nil
	case markerInt64:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.primitive.int64", err)
		}
		v := NewInt64(int64(binary.BigEndian.Uint64(buf[:])))
		return &v, nil
	case markerFloat32:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.primitive.float32", err)
		}
		v := NewFloat32(math.Float32frombits(binary.BigEndian.Uint32(buf[:])))
		return &v, nil
	case markerFloat64:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.primitive.float64", err)
		}
		v := NewFloat64(math.Float64frombits(binary.BigEndian.Uint64(buf[:])))
		return &v, nil
	case markerBool:
		var buf [1]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.primitive.bool", err)
		}
		v := NewBool(buf[0] != 0)
		return &v, nil
	case markerString:
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.primitive.string.length", err)
		}
		n := int(lenBuf[0])
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, telemetryerrors.NewDecodeError("decode.primitive.string.body", err)
			}
		}
		v := NewString(string(buf))
		return &v, nil
	default:
		return nil, telemetryerrors.NewDecodeError("decode.primitive.marker",
			fmt.Errorf("unsupported marker 0x%02x", m[0]))
	}
}

func encodeFileRef(w io.Writer, f *FileRef) error {
	pathBytes := []byte(f.Path)
	if len(pathBytes) > MaxFilePathBytes {
		return telemetryerrors.NewDecodeError("encode.file.path.length",
			fmt.Errorf("path length %d exceeds %d", len(pathBytes), MaxFilePathBytes))
	}
	extBytes := []byte(f.Extension)
	if len(extBytes) > MaxFileExtensionBytes {
		return telemetryerrors.NewDecodeError("encode.file.extension.length",
			fmt.Errorf("extension length %d exceeds %d", len(extBytes), MaxFileExtensionBytes))
	}
	if _, err := w.Write([]byte{markerFile}); err != nil {
		return wrapEncode(err, "encode.file.marker")
	}
	var pathLen [2]byte
	binary.BigEndian.PutUint16(pathLen[:], uint16(len(pathBytes)))
	if _, err := w.Write(pathLen[:]); err != nil {
		return wrapEncode(err, "encode.file.path.length.write")
	}
	if len(pathBytes) > 0 {
		if _, err := w.Write(pathBytes); err != nil {
			return wrapEncode(err, "encode.file.path.write")
		}
	}
	if _, err := w.Write([]byte{byte(len(extBytes))}); err != nil {
		return wrapEncode(err, "encode.file.extension.length.write")
	}
	if len(extBytes) > 0 {
		if _, err := w.Write(extBytes); err != nil {
			return wrapEncode(err, "encode.file.extension.write")
		}
	}
	return nil
}

func decodeFileRef(r io.Reader) (*FileRef, error) {
	var pathLen [2]byte
	if _, err := io.ReadFull(r, pathLen[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.file.path.length", err)
	}
	n := int(binary.BigEndian.Uint16(pathLen[:]))
	path := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, path); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.file.path.read", err)
		}
	}
	var extLen [1]byte
	if _, err := io.ReadFull(r, extLen[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.file.extension.length", err)
	}
	ext := make([]byte, int(extLen[0]))
	if len(ext) > 0 {
		if _, err := io.ReadFull(r, ext); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.file.extension.read", err)
		}
	}
	return &FileRef{Path: string(path), Extension: string(ext)}, nil
}

// EncodeSample writes an Ingest frame (§6.1): metric_id, timestamp, and the
// primitive/file data union.
func EncodeSample(w io.Writer, s *Sample) error {
	if err := encodeMetricID(w, s.Metadata.MetricID); err != nil {
		return err
	}
	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], math.Float32bits(s.Metadata.Timestamp))
	if _, err := w.Write(tsBuf[:]); err != nil {
		return wrapEncode(err, "encode.sample.timestamp")
	}
	switch {
	case s.File != nil:
		return encodeFileRef(w, s.File)
	case s.Primitive != nil:
		return encodePrimitive(w, s.Primitive)
	default:
		return telemetryerrors.NewDecodeError("encode.sample.variant",
			fmt.Errorf("sample for metric %q has neither primitive nor file set", s.Metadata.MetricID))
	}
}

// DecodeSample reads an Ingest frame (§6.1).
func DecodeSample(data []byte) (*Sample, error) {
	r := bytes.NewReader(data)
	metricID, err := decodeMetricID(r)
	if err != nil {
		return nil, err
	}
	var tsBuf [4]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.sample.timestamp", err)
	}
	ts := math.Float32frombits(binary.BigEndian.Uint32(tsBuf[:]))

	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.sample.variant.marker", err)
	}
	s := &Sample{Metadata: Metadata{MetricID: metricID, Timestamp: ts}}
	if marker[0] == markerFile {
		f, err := decodeFileRef(r)
		if err != nil {
			return nil, err
		}
		s.File = f
		return s, nil
	}
	p, err := decodePrimitive(io.MultiReader(bytes.NewReader(marker[:]), r))
	if err != nil {
		return nil, err
	}
	s.Primitive = p
	return s, nil
}

// EncodeData returns just the encoded payload of a sample's data variant
// (no metric_id/timestamp framing) — the bytes handed to the Chunker for
// segmentation, matching the original encode_data() contract.
func EncodeData(s *Sample) ([]byte, error) {
	var buf bytes.Buffer
	switch {
	case s.File != nil:
		if err := encodeFileRef(&buf, s.File); err != nil {
			return nil, err
		}
	case s.Primitive != nil:
		if err := encodePrimitive(&buf, s.Primitive); err != nil {
			return nil, err
		}
	default:
		return nil, telemetryerrors.NewDecodeError("encode.data.variant",
			fmt.Errorf("sample for metric %q has neither primitive nor file set", s.Metadata.MetricID))
	}
	return buf.Bytes(), nil
}

// EncodeRequest writes a Request frame (§6.2): just a metric_id.
func EncodeRequest(w io.Writer, metricID MetricId) error {
	return encodeMetricID(w, metricID)
}

// DecodeRequest reads a Request frame (§6.2).
func DecodeRequest(data []byte) (MetricId, error) {
	return decodeMetricID(bytes.NewReader(data))
}

// EncodeResponse writes a Response frame (§6.3). A nil primitive encodes
// the "absent" marker used both for unknown metrics and for File samples,
// which are never servable as a response (WrongResponseType).
func EncodeResponse(w io.Writer, metricID MetricId, p *Primitive) error {
	if err := encodeMetricID(w, metricID); err != nil {
		return err
	}
	if p == nil {
		_, err := w.Write([]byte{markerAbsent})
		return wrapEncode(err, "encode.response.absent")
	}
	return encodePrimitive(w, p)
}

// DecodeResponse reads a Response frame (§6.3). A nil Primitive return
// means the metric was unavailable (absent or unservable).
func DecodeResponse(data []byte) (metricID MetricId, p *Primitive, err error) {
	r := bytes.NewReader(data)
	metricID, err = decodeMetricID(r)
	if err != nil {
		return "", nil, err
	}
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return "", nil, telemetryerrors.NewDecodeError("decode.response.marker", err)
	}
	if marker[0] == markerAbsent {
		return metricID, nil, nil
	}
	p, err = decodePrimitive(io.MultiReader(bytes.NewReader(marker[:]), r))
	if err != nil {
		return "", nil, err
	}
	return metricID, p, nil
}

// SampleFrame is one downlink segment datagram (§6.4).
type SampleFrame struct {
	MetricID    MetricId
	Timestamp   float32
	IsFile      bool
	SampleID    uint32
	NumSegments uint32
	Seqnum      uint32
	Data        []byte
}

// EncodeSampleFrame writes one downlink segment datagram.
func EncodeSampleFrame(w io.Writer, f *SampleFrame) error {
	if err := encodeMetricID(w, f.MetricID); err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], math.Float32bits(f.Timestamp))
	if _, err := w.Write(hdr[:]); err != nil {
		return wrapEncode(err, "encode.sampleframe.timestamp")
	}
	dataType := byte(0)
	if f.IsFile {
		dataType = 1
	}
	if _, err := w.Write([]byte{dataType}); err != nil {
		return wrapEncode(err, "encode.sampleframe.data_type")
	}
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], f.SampleID)
	if _, err := w.Write(u32[:]); err != nil {
		return wrapEncode(err, "encode.sampleframe.sample_id")
	}
	binary.BigEndian.PutUint32(u32[:], f.NumSegments)
	if _, err := w.Write(u32[:]); err != nil {
		return wrapEncode(err, "encode.sampleframe.num_segments")
	}
	binary.BigEndian.PutUint32(u32[:], f.Seqnum)
	if _, err := w.Write(u32[:]); err != nil {
		return wrapEncode(err, "encode.sampleframe.seqnum")
	}
	if len(f.Data) > 0xFFFF {
		return telemetryerrors.NewDecodeError("encode.sampleframe.data.length",
			fmt.Errorf("segment data length %d exceeds 65535", len(f.Data)))
	}
	var dlen [2]byte
	binary.BigEndian.PutUint16(dlen[:], uint16(len(f.Data)))
	if _, err := w.Write(dlen[:]); err != nil {
		return wrapEncode(err, "encode.sampleframe.data.length.write")
	}
	if len(f.Data) > 0 {
		if _, err := w.Write(f.Data); err != nil {
			return wrapEncode(err, "encode.sampleframe.data.write")
		}
	}
	return nil
}

// DecodeSampleFrame reads one downlink segment datagram.
func DecodeSampleFrame(data []byte) (*SampleFrame, error) {
	r := bytes.NewReader(data)
	metricID, err := decodeMetricID(r)
	if err != nil {
		return nil, err
	}
	var tsBuf [4]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.sampleframe.timestamp", err)
	}
	ts := math.Float32frombits(binary.BigEndian.Uint32(tsBuf[:]))

	var dataType [1]byte
	if _, err := io.ReadFull(r, dataType[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.sampleframe.data_type", err)
	}

	readU32 := func(op string) (uint32, error) {
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, telemetryerrors.NewDecodeError(op, err)
		}
		return binary.BigEndian.Uint32(buf[:]), nil
	}
	sampleID, err := readU32("decode.sampleframe.sample_id")
	if err != nil {
		return nil, err
	}
	numSegments, err := readU32("decode.sampleframe.num_segments")
	if err != nil {
		return nil, err
	}
	seqnum, err := readU32("decode.sampleframe.seqnum")
	if err != nil {
		return nil, err
	}
	var dlen [2]byte
	if _, err := io.ReadFull(r, dlen[:]); err != nil {
		return nil, telemetryerrors.NewDecodeError("decode.sampleframe.data.length", err)
	}
	n := int(binary.BigEndian.Uint16(dlen[:]))
	segData := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, segData); err != nil {
			return nil, telemetryerrors.NewDecodeError("decode.sampleframe.data.read", err)
		}
	}
	return &SampleFrame{
		MetricID:    metricID,
		Timestamp:   ts,
		IsFile:      dataType[0] == 1,
		SampleID:    sampleID,
		NumSegments: numSegments,
		Seqnum:      seqnum,
		Data:        segData,
	}, nil
}
