package loop

import (
	"fmt"
	"io"
	"strings"

	dissect "github.com/netdissect/go-dissect"
)

// WriterSink prints one line per frame: capture length, layer summary, and
// the first PreviewLen payload bytes as unsigned values.
type WriterSink struct {
	W          io.Writer
	PreviewLen int // payload bytes to print; 0 disables the preview
}

func (s *WriterSink) Consume(frame dissect.RawFrame, res dissect.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d bytes:", frame.Timestamp.Format("15:04:05.000000"), frame.CaptureLength)

	if net, ok := res.Layer(dissect.LayerNetwork); ok {
		fmt.Fprintf(&b, " %s > %s", net.Field("src"), net.Field("dst"))
	}
	if tr, ok := res.Layer(dissect.LayerTransport); ok {
		switch uint8(tr.Protocol) {
		case dissect.ProtocolTCP:
			fmt.Fprintf(&b, " TCP %d > %d flags=0x%02x", tr.Field("src_port"), tr.Field("dst_port"), tr.Field("flags"))
		case dissect.ProtocolUDP:
			fmt.Fprintf(&b, " UDP %d > %d", tr.Field("src_port"), tr.Field("dst_port"))
		case dissect.ProtocolICMP, dissect.ProtocolICMPv6:
			fmt.Fprintf(&b, " ICMP type=%d code=%d", tr.Field("type"), tr.Field("code"))
		}
	}
	if res.Verdict != dissect.VerdictDecoded {
		fmt.Fprintf(&b, " (%s)", res)
	}

	if s.PreviewLen > 0 {
		payload := frame.Data[res.HeaderEnd():frame.CaptureLength]
		n := len(payload)
		if n > s.PreviewLen {
			n = s.PreviewLen
		}
		if n > 0 {
			// %d over a byte slice keeps every value unsigned
			fmt.Fprintf(&b, " payload[:%d]=%d", n, payload[:n])
		}
	}

	_, err := fmt.Fprintln(s.W, b.String())
	return err
}
