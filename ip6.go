package dissect

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// maxExtensionHeaders bounds the IPv6 extension-header walk. A crafted frame
// chaining more than this many extensions is rejected rather than walked.
const maxExtensionHeaders = 8

// ipv6Decoder parses the fixed IPv6 header and walks extension headers until
// it reaches a transport protocol. It satisfies NetworkDecoder.
type ipv6Decoder struct{}

func (ipv6Decoder) Decode(cur *Cursor) (LayerRecord, uint8, error) {
	start := cur.Offset()
	hdr, err := cur.Slice(ipv6HeaderLen)
	if err != nil {
		return LayerRecord{}, 0, atLayer(err, LayerNetwork)
	}

	version := hdr[0] >> 4
	if version != 6 {
		return LayerRecord{}, 0, &MalformedError{Layer: LayerNetwork, Reason: fmt.Sprintf("version %d in IPv6 header", version)}
	}
	payloadLen := binary.BigEndian.Uint16(hdr[4:6])
	next := hdr[6]
	hopLimit := hdr[7]
	src, _ := netip.AddrFromSlice(hdr[8:24])
	dst, _ := netip.AddrFromSlice(hdr[24:40])

	// Walk the extension chain. Each extension starts with a next-header
	// byte and a length byte; its full size is (length+1)*8 bytes.
	extCount := 0
	for isExtensionHeader(next) {
		extCount++
		if extCount > maxExtensionHeaders {
			return LayerRecord{}, 0, &MalformedError{Layer: LayerNetwork, Reason: fmt.Sprintf("more than %d extension headers", maxExtensionHeaders)}
		}
		pair, err := cur.Peek(2)
		if err != nil {
			return LayerRecord{}, 0, atLayer(err, LayerNetwork)
		}
		extLen := (int(pair[1]) + 1) * 8
		if err := cur.Skip(extLen); err != nil {
			return LayerRecord{}, 0, atLayer(err, LayerNetwork)
		}
		next = pair[0]
	}

	rec := LayerRecord{
		Kind:     LayerNetwork,
		Protocol: uint16(next),
		Start:    start,
		End:      cur.Offset(),
		Fields: map[string]any{
			"version":        uint8(6),
			"payload_length": payloadLen,
			"next_header":    next,
			"hop_limit":      hopLimit,
			"src":            src,
			"dst":            dst,
			"ext_headers":    extCount,
		},
	}
	return rec, next, nil
}

// isExtensionHeader reports whether an IPv6 next-header value names an
// extension to keep walking rather than a transport protocol.
func isExtensionHeader(next uint8) bool {
	switch next {
	case 0, 43, 44, 51, 60: // hop-by-hop, routing, fragment, AH, destination options
		return true
	}
	return false
}
