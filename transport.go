package dissect

import (
	"encoding/binary"
	"fmt"
)

// TCP flag bits in the flags byte.
const (
	TCPFlagFIN = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

// tcpDecoder parses TCP headers, options included. It satisfies
// TransportDecoder.
type tcpDecoder struct{}

func (tcpDecoder) Decode(cur *Cursor) (LayerRecord, error) {
	start := cur.Offset()
	if err := cur.need(tcpHeaderMinLen); err != nil {
		return LayerRecord{}, atLayer(err, LayerTransport)
	}

	head, _ := cur.Peek(13)
	headerLen := int(head[12]>>4) * 4 // data offset in 32-bit words
	if headerLen < tcpHeaderMinLen {
		return LayerRecord{}, &MalformedError{Layer: LayerTransport, Reason: fmt.Sprintf("data offset %d below minimum %d", headerLen, tcpHeaderMinLen)}
	}
	// Options are part of the header; a capture ending inside them is a
	// short frame, not a bad one.
	hdr, err := cur.Slice(headerLen)
	if err != nil {
		return LayerRecord{}, atLayer(err, LayerTransport)
	}

	rec := LayerRecord{
		Kind:     LayerTransport,
		Protocol: uint16(ProtocolTCP),
		Start:    start,
		End:      cur.Offset(),
		Fields: map[string]any{
			"src_port":      binary.BigEndian.Uint16(hdr[0:2]),
			"dst_port":      binary.BigEndian.Uint16(hdr[2:4]),
			"seq":           binary.BigEndian.Uint32(hdr[4:8]),
			"ack":           binary.BigEndian.Uint32(hdr[8:12]),
			"flags":         hdr[13] & 0x3F,
			"window":        binary.BigEndian.Uint16(hdr[14:16]),
			"header_length": headerLen,
		},
	}
	return rec, nil
}

// udpDecoder parses the fixed 8-byte UDP header. It satisfies
// TransportDecoder.
type udpDecoder struct{}

func (udpDecoder) Decode(cur *Cursor) (LayerRecord, error) {
	start := cur.Offset()
	avail := cur.Remaining()
	hdr, err := cur.Slice(udpHeaderLen)
	if err != nil {
		return LayerRecord{}, atLayer(err, LayerTransport)
	}

	length := binary.BigEndian.Uint16(hdr[4:6])
	if int(length) < udpHeaderLen {
		return LayerRecord{}, &MalformedError{Layer: LayerTransport, Reason: fmt.Sprintf("length field %d below header size %d", length, udpHeaderLen)}
	}
	if int(length) > avail {
		return LayerRecord{}, &MalformedError{Layer: LayerTransport, Reason: fmt.Sprintf("length field %d exceeds %d captured bytes", length, avail)}
	}

	rec := LayerRecord{
		Kind:     LayerTransport,
		Protocol: uint16(ProtocolUDP),
		Start:    start,
		End:      cur.Offset(),
		Fields: map[string]any{
			"src_port": binary.BigEndian.Uint16(hdr[0:2]),
			"dst_port": binary.BigEndian.Uint16(hdr[2:4]),
			"length":   length,
			// Advisory only, same policy as the IPv4 header checksum.
			"checksum": binary.BigEndian.Uint16(hdr[6:8]),
		},
	}
	return rec, nil
}

// icmpDecoder parses ICMP and ICMPv6 headers: type, code, and for echo
// request/reply the identifier and sequence when captured. It satisfies
// TransportDecoder.
type icmpDecoder struct {
	protocol uint8 // ProtocolICMP or ProtocolICMPv6
}

func (d icmpDecoder) Decode(cur *Cursor) (LayerRecord, error) {
	start := cur.Offset()
	hdr, err := cur.Slice(icmpHeaderMinLen)
	if err != nil {
		return LayerRecord{}, atLayer(err, LayerTransport)
	}

	typ := hdr[0]
	rec := LayerRecord{
		Kind:     LayerTransport,
		Protocol: uint16(d.protocol),
		Start:    start,
		End:      cur.Offset(),
		Fields: map[string]any{
			"type": typ,
			"code": hdr[1],
		},
	}

	if d.isEcho(typ) && cur.Remaining() >= 4 {
		rest, _ := cur.Slice(4)
		rec.Fields["id"] = binary.BigEndian.Uint16(rest[0:2])
		rec.Fields["seq"] = binary.BigEndian.Uint16(rest[2:4])
		rec.End = cur.Offset()
	}
	return rec, nil
}

func (d icmpDecoder) isEcho(typ uint8) bool {
	if d.protocol == ProtocolICMPv6 {
		return typ == 128 || typ == 129
	}
	return typ == 8 || typ == 0
}
