package dissect

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket/layers"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
)

// decodeEthernet decodes the Ethernet header, skipping 802.1Q and QinQ tags.
func decodeEthernet(s *state) tag {
	d := s.data
	if len(d) < ethernetHeaderLen {
		return s.unknown("truncated Ethernet header, length %d", len(d))
	}

	s.rec.Destination = net.HardwareAddr(d[0:6]).String()
	s.rec.Source = net.HardwareAddr(d[6:12]).String()

	etherType := layers.EthernetType(binary.BigEndian.Uint16(d[12:14]))
	offset := ethernetHeaderLen
	for etherType == layers.EthernetTypeDot1Q || etherType == layers.EthernetTypeQinQ {
		if len(d) < offset+vlanHeaderLen {
			return s.unknown("truncated VLAN tag, length %d", len(d))
		}
		etherType = layers.EthernetType(binary.BigEndian.Uint16(d[offset+2 : offset+4]))
		offset += vlanHeaderLen
	}
	s.data = d[offset:]

	switch etherType {
	case layers.EthernetTypeIPv4:
		return tagIPv4
	case layers.EthernetTypeIPv6:
		return tagIPv6
	case layers.EthernetTypeARP:
		return tagARP
	}
	return s.unknown("Unknown ethertype: %s (0x%04x), length %d", etherType, uint16(etherType), len(s.data))
}

// SupportsLinkType reports whether Dissect can decode frames of link type
// lt. Only Ethernet is decoded; other link types dissect as "Unknown".
func SupportsLinkType(lt layers.LinkType) bool {
	return lt == layers.LinkTypeEthernet
}
