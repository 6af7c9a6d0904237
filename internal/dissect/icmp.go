package dissect

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"
)

const (
	icmpHeaderLen = 4
	igmpMinLen    = 8
)

var igmpTypes = map[uint8]string{
	0x11: "Membership Query",
	0x12: "Membership Report v1",
	0x16: "Membership Report v2",
	0x17: "Leave Group",
	0x22: "Membership Report v3",
}

func decodeICMPv4(s *state) tag {
	d := s.data
	if len(d) < icmpHeaderLen {
		return s.unknown("%s > %s truncated ICMP header, length %d", s.src, s.dst, len(d))
	}
	tc := layers.CreateICMPv4TypeCode(d[0], d[1])
	detail := fmt.Sprintf("%s > %s ICMP %s", s.src, s.dst, tc)
	if t := tc.Type(); (t == layers.ICMPv4TypeEchoRequest || t == layers.ICMPv4TypeEchoReply) && len(d) >= 8 {
		detail += echoDetail(d)
	}
	s.rec.Protocol = ProtoICMP
	s.rec.Detail = fmt.Sprintf("%s, length %d", detail, len(d))
	return tagDone
}

func decodeICMPv6(s *state) tag {
	d := s.data
	if len(d) < icmpHeaderLen {
		return s.unknown("%s > %s truncated ICMPv6 header, length %d", s.src, s.dst, len(d))
	}
	tc := layers.CreateICMPv6TypeCode(d[0], d[1])
	detail := fmt.Sprintf("%s > %s ICMPv6 %s", s.src, s.dst, tc)
	if t := tc.Type(); (t == layers.ICMPv6TypeEchoRequest || t == layers.ICMPv6TypeEchoReply) && len(d) >= 8 {
		detail += echoDetail(d)
	}
	s.rec.Protocol = ProtoICMPv6
	s.rec.Detail = fmt.Sprintf("%s, length %d", detail, len(d))
	return tagDone
}

func echoDetail(d []byte) string {
	return fmt.Sprintf(", id %d, seq %d", binary.BigEndian.Uint16(d[4:6]), binary.BigEndian.Uint16(d[6:8]))
}

// decodeIGMP decodes type, max response time, checksum and group address.
func decodeIGMP(s *state) tag {
	d := s.data
	if len(d) < igmpMinLen {
		return s.unknown("%s > %s truncated IGMP message, length %d", s.src, s.dst, len(d))
	}
	name, ok := igmpTypes[d[0]]
	if !ok {
		name = fmt.Sprintf("type 0x%02x", d[0])
	}

	var detail string
	if d[0] == 0x22 {
		// v3 reports carry a record count where older messages carry the group.
		detail = fmt.Sprintf("%s > %s IGMP %s, %d group record(s)",
			s.src, s.dst, name, binary.BigEndian.Uint16(d[6:8]))
	} else {
		detail = fmt.Sprintf("%s > %s IGMP %s, group %s, max resp %d",
			s.src, s.dst, name, netip.AddrFrom4([4]byte(d[4:8])), d[1])
	}
	s.rec.Protocol = ProtoIGMP
	s.rec.Detail = fmt.Sprintf("%s, length %d", detail, len(d))
	return tagDone
}
