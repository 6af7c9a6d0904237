package dissect

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket/layers"
)

const arpFixedLen = 8

// decodeARP reads the standard ARP layout: hardware type, protocol type,
// address lengths and operation, then sender and target address pairs.
func decodeARP(s *state) tag {
	d := s.data
	if len(d) < arpFixedLen {
		return s.unknown("truncated ARP header, length %d", len(d))
	}
	hlen, plen := int(d[4]), int(d[5])
	msgLen := arpFixedLen + 2*(hlen+plen)
	if len(d) < msgLen {
		return s.unknown("truncated ARP message, length %d", len(d))
	}

	off := arpFixedLen
	sha := d[off : off+hlen]
	off += hlen
	spa := d[off : off+plen]
	off += plen
	tha := d[off : off+hlen]
	off += hlen
	tpa := d[off : off+plen]

	sender, target := arpProtoAddr(spa), arpProtoAddr(tpa)
	s.rec.Protocol = ProtoARP
	s.rec.Source = sender
	s.rec.Destination = target

	switch op := binary.BigEndian.Uint16(d[6:8]); op {
	case layers.ARPRequest:
		s.rec.Detail = fmt.Sprintf("ARP, Request who-has %s (%s) tell %s (%s), length %d",
			target, arpHardwareAddr(tha), sender, arpHardwareAddr(sha), msgLen)
	case layers.ARPReply:
		s.rec.Detail = fmt.Sprintf("ARP, Reply %s is-at %s, length %d",
			sender, arpHardwareAddr(sha), msgLen)
	default:
		s.rec.Detail = fmt.Sprintf("ARP, opcode %d, %s -> %s, length %d", op, sender, target, msgLen)
	}
	return tagDone
}

// arpHardwareAddr reports an all-zero address as Broadcast.
func arpHardwareAddr(b []byte) string {
	for _, c := range b {
		if c != 0 {
			return net.HardwareAddr(b).String()
		}
	}
	return "Broadcast"
}

func arpProtoAddr(b []byte) string {
	if addr, ok := netip.AddrFromSlice(b); ok {
		return addr.String()
	}
	return hex.EncodeToString(b)
}
