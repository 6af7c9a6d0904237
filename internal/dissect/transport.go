package dissect

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	tcpHeaderMinLen = 20
	udpHeaderLen    = 8

	tcpOptionEnd       = 0
	tcpOptionNop       = 1
	tcpOptionTimestamp = 8
)

// tcpFlagChars lists flag characters from bit 0 (FIN) to bit 7 (CWR).
const tcpFlagChars = "FSRPAUEC"

func decodeTCP(s *state) tag {
	d := s.data
	if len(d) < tcpHeaderMinLen {
		return s.unknown("%s > %s truncated TCP header, length %d", s.src, s.dst, len(d))
	}
	headerLen := int(d[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(d) < headerLen {
		return s.unknown("%s > %s bad TCP data offset %d", s.src, s.dst, headerLen)
	}

	s.transport = tagTCP
	s.srcPort = binary.BigEndian.Uint16(d[0:2])
	s.dstPort = binary.BigEndian.Uint16(d[2:4])
	seq := binary.BigEndian.Uint32(d[4:8])
	ack := binary.BigEndian.Uint32(d[8:12])
	win := binary.BigEndian.Uint16(d[14:16])
	payload := d[headerLen:]

	var b strings.Builder
	fmt.Fprintf(&b, "%s > %s Flags [%s], seq %d, ack %d, win %d",
		endpoint(s.src, s.srcPort), endpoint(s.dst, s.dstPort), tcpFlags(d[13]), seq, ack, win)
	if val, ecr, ok := tcpTimestamp(d[tcpHeaderMinLen:headerLen]); ok {
		fmt.Fprintf(&b, ", TS val %d ecr %d", val, ecr)
	}
	fmt.Fprintf(&b, ", length %d", len(payload))

	s.setTransport(ProtoTCP, b.String())
	s.data = payload
	if len(payload) == 0 {
		return tagDone
	}
	return tagApplication
}

func decodeUDP(s *state) tag {
	d := s.data
	if len(d) < udpHeaderLen {
		return s.unknown("%s > %s truncated UDP header, length %d", s.src, s.dst, len(d))
	}

	s.transport = tagUDP
	s.srcPort = binary.BigEndian.Uint16(d[0:2])
	s.dstPort = binary.BigEndian.Uint16(d[2:4])
	payload := d[udpHeaderLen:]
	if n := int(binary.BigEndian.Uint16(d[4:6])); n >= udpHeaderLen && n-udpHeaderLen < len(payload) {
		payload = payload[:n-udpHeaderLen]
	}

	s.setTransport(ProtoUDP, fmt.Sprintf("%s > %s UDP, length %d",
		endpoint(s.src, s.srcPort), endpoint(s.dst, s.dstPort), len(payload)))
	s.data = payload
	if len(payload) == 0 {
		return tagDone
	}
	return tagApplication
}

// setTransport records the transport summary. Application decoders replace
// it only when they recognise the payload.
func (s *state) setTransport(label, detail string) {
	s.rec.Protocol = label
	s.rec.SrcPort = s.srcPort
	s.rec.DstPort = s.dstPort
	s.rec.Detail = detail
}

func tcpFlags(flags uint8) string {
	var b []byte
	for i := 0; i < len(tcpFlagChars); i++ {
		if flags&(1<<i) != 0 {
			b = append(b, tcpFlagChars[i])
		}
	}
	if len(b) == 0 {
		return "."
	}
	return string(b)
}

// tcpTimestamp extracts the timestamp option (RFC 7323) from raw options.
func tcpTimestamp(opts []byte) (val, ecr uint32, ok bool) {
	for i := 0; i < len(opts); {
		switch opts[i] {
		case tcpOptionEnd:
			return 0, 0, false
		case tcpOptionNop:
			i++
			continue
		}
		if i+1 >= len(opts) {
			return 0, 0, false
		}
		n := int(opts[i+1])
		if n < 2 || i+n > len(opts) {
			return 0, 0, false
		}
		if opts[i] == tcpOptionTimestamp && n == 10 {
			return binary.BigEndian.Uint32(opts[i+2 : i+6]), binary.BigEndian.Uint32(opts[i+6 : i+10]), true
		}
		i += n
	}
	return 0, 0, false
}
