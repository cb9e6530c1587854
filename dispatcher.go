package dissect

import "errors"

// NetworkDecoder parses one network-layer header from the cursor, returning
// its record and the transport protocol number carried inside. Implementations
// must consume exactly the header's bytes and nothing past them.
type NetworkDecoder interface {
	Decode(cur *Cursor) (LayerRecord, uint8, error)
}

// TransportDecoder parses one transport-layer header from the cursor.
type TransportDecoder interface {
	Decode(cur *Cursor) (LayerRecord, error)
}

// Dispatcher runs the layer chain for one frame: Ethernet, then whichever
// network decoder the ethertype selects, then whichever transport decoder the
// IP protocol number selects. It holds no per-frame state, so a single
// Dispatcher is safe to share across sequential dispatch calls and decoding
// the same frame twice yields identical results.
type Dispatcher struct {
	network   map[uint16]NetworkDecoder
	transport map[uint8]TransportDecoder
}

// NewDispatcher returns a dispatcher with the default protocol table: IPv4
// and IPv6 at the network layer, TCP, UDP, ICMP and ICMPv6 at the transport
// layer.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		network:   make(map[uint16]NetworkDecoder),
		transport: make(map[uint8]TransportDecoder),
	}
	d.RegisterNetwork(EtherTypeIPv4, ipv4Decoder{})
	d.RegisterNetwork(EtherTypeIPv6, ipv6Decoder{})
	d.RegisterTransport(ProtocolTCP, tcpDecoder{})
	d.RegisterTransport(ProtocolUDP, udpDecoder{})
	d.RegisterTransport(ProtocolICMP, icmpDecoder{protocol: ProtocolICMP})
	d.RegisterTransport(ProtocolICMPv6, icmpDecoder{protocol: ProtocolICMPv6})
	return d
}

// RegisterNetwork maps an ethertype to a network-layer decoder, replacing any
// existing entry.
func (d *Dispatcher) RegisterNetwork(etherType uint16, dec NetworkDecoder) {
	d.network[etherType] = dec
}

// RegisterTransport maps an IP protocol number to a transport-layer decoder,
// replacing any existing entry.
func (d *Dispatcher) RegisterTransport(protocol uint8, dec TransportDecoder) {
	d.transport[protocol] = dec
}

// Dispatch decodes one frame and classifies the outcome. The frame's bytes
// are never modified; a cursor borrowed from them is advanced layer by layer.
// Truncated and malformed headers end the dispatch with the layers completed
// so far; a protocol nobody registered is a classification, not a failure.
func (d *Dispatcher) Dispatch(frame RawFrame) Result {
	cur := NewCursor(frame.Data[:frame.CaptureLength])
	var layers []LayerRecord

	link, etherType, err := decodeEthernet(cur)
	if err != nil {
		return failure(layers, err)
	}
	layers = append(layers, link)

	nd, ok := d.network[etherType]
	if !ok {
		return Result{Verdict: VerdictUnsupported, Layers: layers, Protocol: etherType}
	}
	network, protocol, err := nd.Decode(cur)
	if err != nil {
		return failure(layers, err)
	}
	layers = append(layers, network)

	td, ok := d.transport[protocol]
	if !ok {
		return Result{Verdict: VerdictUnsupported, Layers: layers, Protocol: uint16(protocol)}
	}
	transport, err := td.Decode(cur)
	if err != nil {
		return failure(layers, err)
	}
	layers = append(layers, transport)

	return Result{Verdict: VerdictDecoded, Layers: layers}
}

// failure converts a decoder error into a terminal Result carrying the layers
// completed before the error.
func failure(layers []LayerRecord, err error) Result {
	var te *TruncatedError
	if errors.As(err, &te) {
		return Result{
			Verdict:     VerdictTruncated,
			Layers:      layers,
			FailedLayer: te.Layer,
			Shortfall:   te.Shortfall,
		}
	}
	var me *MalformedError
	if errors.As(err, &me) {
		return Result{
			Verdict:     VerdictMalformed,
			Layers:      layers,
			FailedLayer: me.Layer,
			Reason:      me.Reason,
		}
	}
	// Decoders only produce the two error types above; anything else is a
	// programming error surfaced as malformed rather than a panic.
	return Result{Verdict: VerdictMalformed, Layers: layers, Reason: err.Error()}
}
