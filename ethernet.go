package dissect

import (
	"encoding/binary"
	"net"
)

// decodeEthernet parses the link-layer header, including any 802.1Q/QinQ tags,
// and returns the link record plus the inner ethertype for dispatch. An
// ethertype nobody registered a decoder for is not an error here; the
// dispatcher classifies it after the link record is kept.
func decodeEthernet(cur *Cursor) (LayerRecord, uint16, error) {
	start := cur.Offset()
	hdr, err := cur.Slice(ethernetHeaderLen)
	if err != nil {
		return LayerRecord{}, 0, atLayer(err, LayerLink)
	}

	dst := net.HardwareAddr(hdr[0:6])
	src := net.HardwareAddr(hdr[6:12])
	etherType := binary.BigEndian.Uint16(hdr[12:14])

	// 802.1Q tags sit between the source MAC and the real ethertype and can
	// be nested (QinQ). Each tag is 2 bytes TCI + 2 bytes inner ethertype.
	var vlans []uint16
	for etherType == EtherTypeVLAN || etherType == EtherTypeQinQ {
		tag, err := cur.Slice(vlanTagLen)
		if err != nil {
			return LayerRecord{}, 0, atLayer(err, LayerLink)
		}
		tci := binary.BigEndian.Uint16(tag[0:2])
		vlans = append(vlans, tci&0x0FFF) // low 12 bits are the VLAN id
		etherType = binary.BigEndian.Uint16(tag[2:4])
	}

	rec := LayerRecord{
		Kind:     LayerLink,
		Protocol: etherType,
		Start:    start,
		End:      cur.Offset(),
		Fields: map[string]any{
			"dst_mac":   dst,
			"src_mac":   src,
			"ethertype": etherType,
		},
	}
	if len(vlans) > 0 {
		rec.Fields["vlan_ids"] = vlans
	}
	return rec, etherType, nil
}
