package capture

// constants, see compliant with pcap-linktype(7) and http://www.tcpdump.org/linktypes.html.
const (
	LinkTypeNull     uint32 = 0x0
	LinkTypeEthernet uint32 = 0x01
)
