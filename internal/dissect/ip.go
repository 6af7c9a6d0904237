package dissect

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	// Extension headers skipped before giving up on an IPv6 packet.
	maxIPv6Extensions = 8
)

// decodeIPv4 decodes an IPv4 header. Link-layer padding beyond the total
// length is dropped; non-first fragments end the pipeline.
func decodeIPv4(s *state) tag {
	d := s.data
	if len(d) < ipv4HeaderMinLen {
		return s.unknown("truncated IPv4 header, length %d", len(d))
	}
	if v := d[0] >> 4; v != 4 {
		return s.unknown("bad IPv4 version %d", v)
	}
	headerLen := int(d[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(d) < headerLen {
		return s.unknown("bad IPv4 header length %d", headerLen)
	}
	if total := int(binary.BigEndian.Uint16(d[2:4])); total >= headerLen && total < len(d) {
		d = d[:total]
	}

	s.src = netip.AddrFrom4([4]byte(d[12:16]))
	s.dst = netip.AddrFrom4([4]byte(d[16:20]))
	s.rec.Source = s.src.String()
	s.rec.Destination = s.dst.String()
	s.data = d[headerLen:]

	proto := layers.IPProtocol(d[9])
	if offset := binary.BigEndian.Uint16(d[6:8]) & 0x1FFF; offset != 0 {
		s.rec.Protocol = ProtoIPv4
		s.rec.Detail = fmt.Sprintf("%s > %s %s fragment, offset %d, length %d",
			s.src, s.dst, proto, int(offset)*8, len(s.data))
		return tagDone
	}
	return s.transportTag(proto)
}

// decodeIPv6 decodes the fixed IPv6 header and walks past extension headers.
func decodeIPv6(s *state) tag {
	d := s.data
	if len(d) < ipv6HeaderLen {
		return s.unknown("truncated IPv6 header, length %d", len(d))
	}
	if v := d[0] >> 4; v != 6 {
		return s.unknown("bad IPv6 version %d", v)
	}

	body := d[ipv6HeaderLen:]
	// A zero payload length means a jumbogram; keep everything.
	if n := int(binary.BigEndian.Uint16(d[4:6])); n > 0 && n < len(body) {
		body = body[:n]
	}

	s.src = netip.AddrFrom16([16]byte(d[8:24]))
	s.dst = netip.AddrFrom16([16]byte(d[24:40]))
	s.rec.Source = s.src.String()
	s.rec.Destination = s.dst.String()

	next := layers.IPProtocol(d[6])
	for i := 0; i < maxIPv6Extensions; i++ {
		switch next {
		case layers.IPProtocolIPv6HopByHop, layers.IPProtocolIPv6Routing, layers.IPProtocolIPv6Destination:
			if len(body) < 8 {
				return s.unknown("truncated IPv6 %s header", next)
			}
			n := (int(body[1]) + 1) * 8
			if len(body) < n {
				return s.unknown("truncated IPv6 %s header", next)
			}
			next, body = layers.IPProtocol(body[0]), body[n:]
		case layers.IPProtocolIPv6Fragment:
			if len(body) < 8 {
				return s.unknown("truncated IPv6 fragment header")
			}
			offset := binary.BigEndian.Uint16(body[2:4]) >> 3
			next, body = layers.IPProtocol(body[0]), body[8:]
			if offset != 0 {
				s.rec.Protocol = ProtoIPv6
				s.rec.Detail = fmt.Sprintf("%s > %s %s fragment, offset %d, length %d",
					s.src, s.dst, next, int(offset)*8, len(body))
				return tagDone
			}
		default:
			s.data = body
			return s.transportTag(next)
		}
	}
	return s.unknown("too many IPv6 extension headers")
}

// transportTag maps an IP next-protocol value onto the pipeline.
func (s *state) transportTag(proto layers.IPProtocol) tag {
	switch proto {
	case layers.IPProtocolTCP:
		return tagTCP
	case layers.IPProtocolUDP:
		return tagUDP
	case layers.IPProtocolICMPv4:
		return tagICMPv4
	case layers.IPProtocolICMPv6:
		return tagICMPv6
	case layers.IPProtocolIGMP:
		return tagIGMP
	}
	return s.unknown("%s > %s Unknown protocol: %s (%d), length %d",
		s.src, s.dst, proto, uint8(proto), len(s.data))
}
