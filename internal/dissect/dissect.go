// Package dissect turns raw link-layer frames into protocol records.
//
// Decoding is a small pipeline of layer decoders indexed by a protocol tag.
// Each decoder consumes its header, fills in what it learned, and returns
// the tag of the next layer, tagDone, or tagUnknown. Dissect never fails:
// malformed input degrades to the "Unknown" label.
package dissect

import (
	"fmt"
	"net/netip"
	"sort"

	"firestige.xyz/anansi/internal/core"
)

// Protocol labels.
const (
	ProtoUnknown = "Unknown"
	ProtoARP     = "ARP"
	ProtoIPv4    = "IPv4"
	ProtoIPv6    = "IPv6"
	ProtoTCP     = "TCP"
	ProtoUDP     = "UDP"
	ProtoICMP    = "ICMP"
	ProtoICMPv6  = "ICMPv6"
	ProtoIGMP    = "IGMP"
	ProtoTLS     = "TLS"
	ProtoSMB     = "SMB"
	ProtoSMB2    = "SMB2"
	ProtoHTTP    = "HTTP"
	ProtoFTP     = "FTP"
	ProtoDNS     = "DNS"
	ProtoDHCP    = "DHCP"
)

// Protocols returns every label Dissect can produce, sorted.
func Protocols() []string {
	p := []string{
		ProtoUnknown, ProtoARP, ProtoIPv4, ProtoIPv6, ProtoTCP, ProtoUDP,
		ProtoICMP, ProtoICMPv6, ProtoIGMP, ProtoTLS, ProtoSMB, ProtoSMB2,
		ProtoHTTP, ProtoFTP, ProtoDNS, ProtoDHCP,
	}
	sort.Strings(p)
	return p
}

type tag uint8

const (
	tagEthernet tag = iota
	tagIPv4
	tagIPv6
	tagARP
	tagTCP
	tagUDP
	tagICMPv4
	tagICMPv6
	tagIGMP
	tagApplication
	tagUnknown
	tagDone
)

// layerDecoder consumes the current layer of s and returns the next tag.
type layerDecoder func(s *state) tag

var decoders = [...]layerDecoder{
	tagEthernet:    decodeEthernet,
	tagIPv4:        decodeIPv4,
	tagIPv6:        decodeIPv6,
	tagARP:         decodeARP,
	tagTCP:         decodeTCP,
	tagUDP:         decodeUDP,
	tagICMPv4:      decodeICMPv4,
	tagICMPv6:      decodeICMPv6,
	tagIGMP:        decodeIGMP,
	tagApplication: decodeApplication,
}

// state carries what the layers above have learned about the frame.
type state struct {
	data []byte // unconsumed bytes, starting at the current layer
	rec  core.ProtocolRecord

	src, dst         netip.Addr
	srcPort, dstPort uint16
	transport        tag
	reason           string // detail reported when the pipeline ends in tagUnknown
}

// unknown records why decoding stopped and ends the pipeline.
func (s *state) unknown(format string, args ...any) tag {
	s.reason = fmt.Sprintf(format, args...)
	return tagUnknown
}

// Dissect decodes frame into a ProtocolRecord. It has no side effects and
// returns identical records for identical frames.
func Dissect(frame core.RawFrame) (rec core.ProtocolRecord) {
	s := state{
		data: frame.Data,
		rec: core.ProtocolRecord{
			Timestamp: frame.Timestamp,
			Length:    len(frame.Data),
		},
	}

	defer func() {
		if r := recover(); r != nil {
			rec = s.rec
			rec.Protocol = ProtoUnknown
			rec.Detail = fmt.Sprintf("dissector fault: %v", r)
		}
	}()

	t := tagEthernet
	for steps := 0; t < tagUnknown && steps < len(decoders); steps++ {
		t = decoders[t](&s)
	}

	if t != tagDone {
		s.rec.Protocol = ProtoUnknown
		s.rec.Detail = s.reason
	}
	return s.rec
}

// endpoint formats an address and port the way netip does, e.g. 10.0.0.1:80
// or [2001:db8::1]:443.
func endpoint(addr netip.Addr, port uint16) string {
	return netip.AddrPortFrom(addr, port).String()
}
