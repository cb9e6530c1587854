package dissect

import (
	"time"

	"github.com/gopacket/gopacket"
)

// RawFrame is one captured unit of link-layer data plus its capture metadata.
// Data may be shorter than Length when the capture source truncated the frame
// at its snap length.
type RawFrame struct {
	Data          []byte
	Timestamp     time.Time
	CaptureLength int // bytes actually captured, == len(Data)
	Length        int // original on-wire length
}

// NewRawFrame builds a RawFrame from capture data and its gopacket metadata.
func NewRawFrame(data []byte, ci gopacket.CaptureInfo) RawFrame {
	f := RawFrame{
		Data:          data,
		Timestamp:     ci.Timestamp,
		CaptureLength: ci.CaptureLength,
		Length:        ci.Length,
	}
	if f.CaptureLength <= 0 || f.CaptureLength > len(data) {
		f.CaptureLength = len(data)
	}
	if f.Length < f.CaptureLength {
		f.Length = f.CaptureLength
	}
	return f
}

// LayerKind identifies the protocol level of a LayerRecord.
type LayerKind uint8

const (
	LayerLink LayerKind = iota + 1
	LayerNetwork
	LayerTransport
)

func (k LayerKind) String() string {
	switch k {
	case LayerLink:
		return "link"
	case LayerNetwork:
		return "network"
	case LayerTransport:
		return "transport"
	}
	return "unknown"
}

// LayerRecord is the decoded representation of one layer's header. Start and
// End delimit the header bytes within the original frame, End exclusive.
// Records produced for one frame cover non-overlapping, strictly increasing
// ranges.
type LayerRecord struct {
	Kind     LayerKind
	Protocol uint16 // ethertype for link, IP protocol number otherwise
	Start    int
	End      int
	Fields   map[string]any
}

// Field fetches a named field, nil if absent.
func (r LayerRecord) Field(name string) any {
	return r.Fields[name]
}
