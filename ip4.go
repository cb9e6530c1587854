package dissect

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// ipv4Decoder parses IPv4 headers, options included. It satisfies
// NetworkDecoder.
type ipv4Decoder struct{}

func (ipv4Decoder) Decode(cur *Cursor) (LayerRecord, uint8, error) {
	start := cur.Offset()
	if err := cur.need(ipv4HeaderMinLen); err != nil {
		return LayerRecord{}, 0, atLayer(err, LayerNetwork)
	}

	head, _ := cur.Peek(1)
	version := head[0] >> 4
	if version != 4 {
		return LayerRecord{}, 0, &MalformedError{Layer: LayerNetwork, Reason: fmt.Sprintf("version %d in IPv4 header", version)}
	}
	headerLen := int(head[0]&0x0F) * 4 // IHL is in 32-bit words
	if headerLen < ipv4HeaderMinLen {
		return LayerRecord{}, 0, &MalformedError{Layer: LayerNetwork, Reason: fmt.Sprintf("header length %d below minimum %d", headerLen, ipv4HeaderMinLen)}
	}
	// Options beyond the captured bytes make the header unparseable as
	// declared: self-inconsistent, not merely short.
	if headerLen > cur.Remaining() {
		return LayerRecord{}, 0, &MalformedError{Layer: LayerNetwork, Reason: fmt.Sprintf("header length %d exceeds %d captured bytes", headerLen, cur.Remaining())}
	}

	hdr, err := cur.Slice(headerLen)
	if err != nil {
		return LayerRecord{}, 0, atLayer(err, LayerNetwork)
	}

	totalLen := binary.BigEndian.Uint16(hdr[2:4])
	if int(totalLen) < headerLen {
		return LayerRecord{}, 0, &MalformedError{Layer: LayerNetwork, Reason: fmt.Sprintf("total length %d below header length %d", totalLen, headerLen)}
	}
	ttl := hdr[8]
	proto := hdr[9]
	checksum := binary.BigEndian.Uint16(hdr[10:12])
	src, _ := netip.AddrFromSlice(hdr[12:16])
	dst, _ := netip.AddrFromSlice(hdr[16:20])

	rec := LayerRecord{
		Kind:     LayerNetwork,
		Protocol: uint16(proto),
		Start:    start,
		End:      cur.Offset(),
		Fields: map[string]any{
			"version":       uint8(4),
			"header_length": headerLen,
			"total_length":  totalLen,
			"ttl":           ttl,
			"protocol":      proto,
			"src":           src,
			"dst":           dst,
			// Advisory only: captures taken with checksum offload carry
			// invalid sums on perfectly good packets.
			"checksum":    checksum,
			"checksum_ok": ipv4Checksum(hdr) == 0,
		},
	}
	return rec, proto, nil
}

// ipv4Checksum computes the ones-complement sum over the header. A header
// whose stored checksum is correct sums to zero.
func ipv4Checksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	if len(hdr)%2 == 1 {
		sum += uint32(hdr[len(hdr)-1]) << 8
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
