package dissect

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixIPv4Checksum stores the correct header checksum into hdr[10:12].
func fixIPv4Checksum(hdr []byte) []byte {
	hdr[10], hdr[11] = 0, 0
	binary.BigEndian.PutUint16(hdr[10:12], ipv4Checksum(hdr))
	return hdr
}

func validIPv4Header() []byte {
	return fixIPv4Checksum([]byte{
		0x45, 0x00, // version 4, IHL 5, TOS
		0x00, 0x2E, // total length 46
		0x12, 0x34, // identification
		0x00, 0x00, // flags, fragment offset
		0x40,       // TTL 64
		0x11,       // protocol: UDP
		0x00, 0x00, // checksum, filled by fixIPv4Checksum
		10, 0, 0, 1, // src 10.0.0.1
		10, 0, 0, 2, // dst 10.0.0.2
	})
}

func TestDecodeIPv4Basic(t *testing.T) {
	rec, proto, err := ipv4Decoder{}.Decode(NewCursor(validIPv4Header()))
	require.NoError(t, err)

	assert.Equal(t, ProtocolUDP, proto)
	assert.Equal(t, LayerNetwork, rec.Kind)
	assert.Equal(t, uint16(ProtocolUDP), rec.Protocol)
	assert.Equal(t, 0, rec.Start)
	assert.Equal(t, 20, rec.End)
	assert.Equal(t, uint16(46), rec.Field("total_length"))
	assert.Equal(t, 20, rec.Field("header_length"))
	assert.Equal(t, uint8(64), rec.Field("ttl"))
	assert.Equal(t, netip.AddrFrom4([4]byte{10, 0, 0, 1}), rec.Field("src"))
	assert.Equal(t, netip.AddrFrom4([4]byte{10, 0, 0, 2}), rec.Field("dst"))
	assert.Equal(t, true, rec.Field("checksum_ok"))
}

func TestDecodeIPv4Options(t *testing.T) {
	// IHL 6: a 24-byte header carrying 4 bytes of options
	hdr := fixIPv4Checksum([]byte{
		0x46, 0x00,
		0x00, 0x20, // total length 32
		0x00, 0x00,
		0x00, 0x00,
		0x40,
		0x06, // protocol: TCP
		0x00, 0x00,
		192, 168, 0, 1,
		192, 168, 0, 2,
		0x01, 0x01, 0x01, 0x00, // options: three NOPs and EOL
	})

	rec, proto, err := ipv4Decoder{}.Decode(NewCursor(hdr))
	require.NoError(t, err)
	assert.Equal(t, ProtocolTCP, proto)
	assert.Equal(t, 24, rec.End, "options belong to the network header")
	assert.Equal(t, 24, rec.Field("header_length"))
}

func TestDecodeIPv4BadChecksumStillDecodes(t *testing.T) {
	hdr := validIPv4Header()
	hdr[10], hdr[11] = 0xDE, 0xAD

	rec, _, err := ipv4Decoder{}.Decode(NewCursor(hdr))
	require.NoError(t, err, "a bad checksum is advisory, not a decode failure")
	assert.Equal(t, false, rec.Field("checksum_ok"))
	assert.Equal(t, uint16(0xDEAD), rec.Field("checksum"))
}

func TestDecodeIPv4Truncated(t *testing.T) {
	hdr := validIPv4Header()[:16]
	_, _, err := ipv4Decoder{}.Decode(NewCursor(hdr))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerNetwork, te.Layer)
	assert.Equal(t, 4, te.Shortfall)
}

func TestDecodeIPv4Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(hdr []byte) []byte
	}{
		{"wrong version", func(hdr []byte) []byte {
			hdr[0] = 0x65 // version 6 in an IPv4 slot
			return hdr
		}},
		{"IHL below minimum", func(hdr []byte) []byte {
			hdr[0] = 0x44 // IHL 4 => 16-byte header
			return hdr
		}},
		{"header length exceeds capture", func(hdr []byte) []byte {
			hdr[0] = 0x4F // IHL 15 => 60-byte header, only 20 captured
			return hdr
		}},
		{"total length below header length", func(hdr []byte) []byte {
			binary.BigEndian.PutUint16(hdr[2:4], 12)
			return hdr
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := tt.mangle(validIPv4Header())
			_, _, err := ipv4Decoder{}.Decode(NewCursor(hdr))
			var me *MalformedError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, LayerNetwork, me.Layer)
		})
	}
}

func validIPv6Header(next uint8) []byte {
	hdr := make([]byte, ipv6HeaderLen)
	hdr[0] = 0x60 // version 6
	binary.BigEndian.PutUint16(hdr[4:6], 8)
	hdr[6] = next
	hdr[7] = 64 // hop limit
	copy(hdr[8:24], netip.MustParseAddr("2001:db8::1").AsSlice())
	copy(hdr[24:40], netip.MustParseAddr("2001:db8::2").AsSlice())
	return hdr
}

func TestDecodeIPv6Basic(t *testing.T) {
	rec, proto, err := ipv6Decoder{}.Decode(NewCursor(validIPv6Header(ProtocolUDP)))
	require.NoError(t, err)

	assert.Equal(t, ProtocolUDP, proto)
	assert.Equal(t, 40, rec.End)
	assert.Equal(t, uint16(8), rec.Field("payload_length"))
	assert.Equal(t, uint8(64), rec.Field("hop_limit"))
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), rec.Field("src"))
	assert.Equal(t, netip.MustParseAddr("2001:db8::2"), rec.Field("dst"))
	assert.Equal(t, 0, rec.Field("ext_headers"))
}

func TestDecodeIPv6OneByteShort(t *testing.T) {
	hdr := validIPv6Header(ProtocolUDP)[:39]
	_, _, err := ipv6Decoder{}.Decode(NewCursor(hdr))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerNetwork, te.Layer)
	assert.Equal(t, 1, te.Shortfall)
}

func TestDecodeIPv6WrongVersion(t *testing.T) {
	hdr := validIPv6Header(ProtocolUDP)
	hdr[0] = 0x40
	_, _, err := ipv6Decoder{}.Decode(NewCursor(hdr))
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, LayerNetwork, me.Layer)
}

// ipv6Extension returns one minimal extension header: next-header byte,
// length byte 0 (meaning 8 bytes total), then padding.
func ipv6Extension(next uint8) []byte {
	ext := make([]byte, 8)
	ext[0] = next
	return ext
}

func TestDecodeIPv6ExtensionHeaders(t *testing.T) {
	// hop-by-hop, then routing, then TCP
	data := validIPv6Header(0)
	data = append(data, ipv6Extension(43)...)
	data = append(data, ipv6Extension(ProtocolTCP)...)

	rec, proto, err := ipv6Decoder{}.Decode(NewCursor(data))
	require.NoError(t, err)
	assert.Equal(t, ProtocolTCP, proto)
	assert.Equal(t, 2, rec.Field("ext_headers"))
	assert.Equal(t, 56, rec.End, "extensions belong to the network header")
}

func TestDecodeIPv6ExtensionWalkLimit(t *testing.T) {
	// nine chained hop-by-hop extensions exceed the walk limit of eight
	data := validIPv6Header(0)
	for i := 0; i < 8; i++ {
		data = append(data, ipv6Extension(0)...)
	}
	data = append(data, ipv6Extension(ProtocolUDP)...)

	_, _, err := ipv6Decoder{}.Decode(NewCursor(data))
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, LayerNetwork, me.Layer)
}

func TestDecodeIPv6ExtensionTruncated(t *testing.T) {
	// extension declares 16 bytes but only 8 are captured
	ext := ipv6Extension(ProtocolUDP)
	ext[1] = 1 // (1+1)*8 = 16 bytes
	data := append(validIPv6Header(0), ext...)

	_, _, err := ipv6Decoder{}.Decode(NewCursor(data))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerNetwork, te.Layer)
	assert.Equal(t, 8, te.Shortfall)
}
