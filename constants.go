package dissect

// Ethertypes, per https://www.iana.org/assignments/ieee-802-numbers.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeVLAN uint16 = 0x8100
	EtherTypeQinQ uint16 = 0x88A8
	EtherTypeIPv6 uint16 = 0x86DD
)

// IP protocol numbers, per https://www.iana.org/assignments/protocol-numbers.
const (
	ProtocolICMP   uint8 = 1
	ProtocolTCP    uint8 = 6
	ProtocolUDP    uint8 = 17
	ProtocolICMPv6 uint8 = 58
)

const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	ipv4HeaderMinLen  = 20
	ipv6HeaderLen     = 40
	tcpHeaderMinLen   = 20
	udpHeaderLen      = 8
	icmpHeaderMinLen  = 4
)
