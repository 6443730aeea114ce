// Command telemetry-client is a small ground-side tool that queries the
// onboard telemetry bus's request/response socket for a metric's latest
// value, or sends it a telecommand. It is the Go analogue of the original
// bcp-fetch-client library, exposed here as a CLI rather than a linkable
// library since ground tooling in this pack talks to its targets over a
// socket, not a shared object.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/sample"
)

const requestTimeout = 2 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("telemetry-client", flag.ContinueOnError)

	requestAddr := fs.String("request-addr", "127.0.0.1:8080", "Request/response socket address")
	telecommandAddr := fs.String("telecommand-addr", "127.0.0.1:3001", "Telecommand socket address")
	metricID := fs.String("metric", "", "Metric ID to request")
	setBps := fs.Uint("set-bps", 0, "Send a set_bps telecommand with this value, then exit")
	setMaxPktSize := fs.Uint("set-max-pkt-size", 0, "Send a set_max_pkt_size telecommand with this value, then exit")
	ackMetric := fs.String("ack", "", "Metric ID to acknowledge (use with -ack-sample-id)")
	ackSampleID := fs.Uint("ack-sample-id", 0, "Sample ID the ack refers to")
	ackSeqnums := fs.String("ack-seqnums", "", "Comma-separated segment sequence numbers to ack")

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *ackMetric != "":
		return sendTelecommand(*telecommandAddr, fmt.Sprintf(
			`{"ack":{"metric_id":%q,"sample_id":%d,"seqnums":[%s]}}`,
			*ackMetric, *ackSampleID, *ackSeqnums))
	case *setBps != 0:
		return sendTelecommand(*telecommandAddr, fmt.Sprintf(`{"set_bps":{"bps":%d}}`, *setBps))
	case *setMaxPktSize != 0:
		return sendTelecommand(*telecommandAddr, fmt.Sprintf(`{"set_max_pkt_size":{"max_pkt_size":%d}}`, *setMaxPktSize))
	case *metricID != "":
		return requestSample(*requestAddr, *metricID)
	default:
		fs.Usage()
		return errors.New("one of -metric, -ack, -set-bps, or -set-max-pkt-size is required")
	}
}

func requestSample(addr, metricID string) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dial request socket: %w", err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := sample.EncodeRequest(&buf, metricID); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	respBuf := make([]byte, 4096)
	n, err := conn.Read(respBuf)
	if err != nil {
		return fmt.Errorf("receive response: %w", err)
	}

	gotID, prim, err := sample.DecodeResponse(respBuf[:n])
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if prim == nil {
		fmt.Printf("%s: no sample available\n", gotID)
		return nil
	}
	fmt.Printf("%s: %s = %s\n", gotID, prim.Kind, formatPrimitive(prim))
	return nil
}

func formatPrimitive(p *sample.Primitive) string {
	switch p.Kind {
	case sample.KindInt32:
		return fmt.Sprintf("%d", p.Int32Val)
	case sample.KindInt64:
		return fmt.Sprintf("%d", p.Int64Val)
	case sample.KindFloat32:
		return fmt.Sprintf("%g", p.Float32Val)
	case sample.KindFloat64:
		return fmt.Sprintf("%g", p.Float64Val)
	case sample.KindBool:
		return fmt.Sprintf("%t", p.BoolVal)
	case sample.KindString:
		return p.StringVal
	default:
		return "<unknown>"
	}
}

func sendTelecommand(addr, payload string) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dial telecommand socket: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("send telecommand: %w", err)
	}
	fmt.Println("telecommand sent")
	return nil
}
