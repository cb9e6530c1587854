package dissect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTCPHeader() []byte {
	return []byte{
		0x30, 0x39, // src port 12345
		0x00, 0x50, // dst port 80
		0x00, 0x00, 0x00, 0x64, // seq 100
		0x00, 0x00, 0x00, 0xC8, // ack 200
		0x50,       // data offset 5
		0x18,       // flags: PSH|ACK
		0x20, 0x00, // window 8192
		0x00, 0x00, // checksum
		0x00, 0x00, // urgent pointer
	}
}

func TestDecodeTCPBasic(t *testing.T) {
	rec, err := tcpDecoder{}.Decode(NewCursor(validTCPHeader()))
	require.NoError(t, err)

	assert.Equal(t, LayerTransport, rec.Kind)
	assert.Equal(t, uint16(ProtocolTCP), rec.Protocol)
	assert.Equal(t, 20, rec.End)
	assert.Equal(t, uint16(12345), rec.Field("src_port"))
	assert.Equal(t, uint16(80), rec.Field("dst_port"))
	assert.Equal(t, uint32(100), rec.Field("seq"))
	assert.Equal(t, uint32(200), rec.Field("ack"))
	assert.Equal(t, uint8(TCPFlagPSH|TCPFlagACK), rec.Field("flags"))
	assert.Equal(t, uint16(8192), rec.Field("window"))
	assert.Equal(t, 20, rec.Field("header_length"))
}

func TestDecodeTCPOptions(t *testing.T) {
	hdr := validTCPHeader()
	hdr[12] = 0x60 // data offset 6: 24-byte header
	hdr = append(hdr, 0x01, 0x01, 0x01, 0x00)

	rec, err := tcpDecoder{}.Decode(NewCursor(hdr))
	require.NoError(t, err)
	assert.Equal(t, 24, rec.End, "options belong to the transport header")
	assert.Equal(t, 24, rec.Field("header_length"))
}

func TestDecodeTCPOptionsTruncated(t *testing.T) {
	hdr := validTCPHeader()
	hdr[12] = 0x60 // declares 24 bytes, only 20 captured

	_, err := tcpDecoder{}.Decode(NewCursor(hdr))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerTransport, te.Layer)
	assert.Equal(t, 4, te.Shortfall)
}

func TestDecodeTCPTruncated(t *testing.T) {
	_, err := tcpDecoder{}.Decode(NewCursor(validTCPHeader()[:19]))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerTransport, te.Layer)
	assert.Equal(t, 1, te.Shortfall)
}

func TestDecodeTCPBadDataOffset(t *testing.T) {
	hdr := validTCPHeader()
	hdr[12] = 0x40 // data offset 4: below the 20-byte minimum

	_, err := tcpDecoder{}.Decode(NewCursor(hdr))
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, LayerTransport, me.Layer)
}

func validUDPHeader() []byte {
	return []byte{
		0x30, 0x39, // src port 12345
		0x00, 0x35, // dst port 53
		0x00, 0x0C, // length 12
		0xBE, 0xEF, // checksum
		0xDE, 0xAD, 0xBE, 0xEF, // 4 bytes payload
	}
}

func TestDecodeUDPBasic(t *testing.T) {
	rec, err := udpDecoder{}.Decode(NewCursor(validUDPHeader()))
	require.NoError(t, err)

	assert.Equal(t, uint16(ProtocolUDP), rec.Protocol)
	assert.Equal(t, 8, rec.End, "payload is not part of the header")
	assert.Equal(t, uint16(12345), rec.Field("src_port"))
	assert.Equal(t, uint16(53), rec.Field("dst_port"))
	assert.Equal(t, uint16(12), rec.Field("length"))
	assert.Equal(t, uint16(0xBEEF), rec.Field("checksum"))
}

func TestDecodeUDPTruncated(t *testing.T) {
	_, err := udpDecoder{}.Decode(NewCursor(validUDPHeader()[:6]))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerTransport, te.Layer)
	assert.Equal(t, 2, te.Shortfall)
}

func TestDecodeUDPBadLength(t *testing.T) {
	tests := []struct {
		name   string
		length uint16
	}{
		{"below header size", 7},
		{"beyond captured bytes", 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := validUDPHeader()
			hdr[4] = byte(tt.length >> 8)
			hdr[5] = byte(tt.length)
			_, err := udpDecoder{}.Decode(NewCursor(hdr))
			var me *MalformedError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, LayerTransport, me.Layer)
		})
	}
}

func TestDecodeICMPEcho(t *testing.T) {
	data := []byte{
		0x08, 0x00, // echo request
		0xF7, 0xFF, // checksum
		0x00, 0x2A, // identifier 42
		0x00, 0x07, // sequence 7
	}

	rec, err := icmpDecoder{protocol: ProtocolICMP}.Decode(NewCursor(data))
	require.NoError(t, err)
	assert.Equal(t, uint16(ProtocolICMP), rec.Protocol)
	assert.Equal(t, uint8(8), rec.Field("type"))
	assert.Equal(t, uint8(0), rec.Field("code"))
	assert.Equal(t, uint16(42), rec.Field("id"))
	assert.Equal(t, uint16(7), rec.Field("seq"))
	assert.Equal(t, 8, rec.End)
}

func TestDecodeICMPDestinationUnreachable(t *testing.T) {
	data := []byte{0x03, 0x01, 0x00, 0x00}

	rec, err := icmpDecoder{protocol: ProtocolICMP}.Decode(NewCursor(data))
	require.NoError(t, err)
	assert.Equal(t, uint8(3), rec.Field("type"))
	assert.Equal(t, uint8(1), rec.Field("code"))
	assert.Nil(t, rec.Field("id"))
	assert.Equal(t, 4, rec.End)
}

func TestDecodeICMPv6Echo(t *testing.T) {
	data := []byte{
		0x80, 0x00, // ICMPv6 echo request
		0x00, 0x00,
		0x01, 0x00, // identifier 256
		0x00, 0x01, // sequence 1
	}

	rec, err := icmpDecoder{protocol: ProtocolICMPv6}.Decode(NewCursor(data))
	require.NoError(t, err)
	assert.Equal(t, uint16(ProtocolICMPv6), rec.Protocol)
	assert.Equal(t, uint8(128), rec.Field("type"))
	assert.Equal(t, uint16(256), rec.Field("id"))
}

func TestDecodeICMPTruncated(t *testing.T) {
	_, err := icmpDecoder{protocol: ProtocolICMP}.Decode(NewCursor([]byte{0x08}))
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerTransport, te.Layer)
	assert.Equal(t, 3, te.Shortfall)
}
