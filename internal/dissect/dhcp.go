package dissect

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

const (
	dhcpFixedLen   = 240 // BOOTP fields plus the magic cookie
	dhcpChaddrLen  = 16
	dhcpOptPad     = 0x00
	dhcpOptMsgType = 53
	dhcpOptEnd     = 0xFF
	bootpOpRequest = 1
	bootpOpReply   = 2
)

var dhcpMessageTypes = map[uint8]string{
	1: "DHCPDISCOVER",
	2: "DHCPOFFER",
	3: "DHCPREQUEST",
	4: "DHCPDECLINE",
	5: "DHCPACK",
	6: "DHCPNAK",
	7: "DHCPRELEASE",
	8: "DHCPINFORM",
}

// dissectDHCP reads the fixed BOOTP region and the option list that starts
// at offset 240.
func dissectDHCP(p []byte) (string, string, bool) {
	if len(p) < dhcpFixedLen {
		return "", "", false
	}

	name := "BOOTP"
	switch p[0] {
	case bootpOpRequest:
		name = "BOOTREQUEST"
	case bootpOpReply:
		name = "BOOTREPLY"
	}
	if v, ok := dhcpOption(p[dhcpFixedLen:], dhcpOptMsgType); ok && len(v) == 1 {
		if n, ok := dhcpMessageTypes[v[0]]; ok {
			name = n
		} else {
			name = fmt.Sprintf("message type %d", v[0])
		}
	}

	hlen := int(p[2])
	if hlen > dhcpChaddrLen {
		hlen = dhcpChaddrLen
	}
	detail := fmt.Sprintf("DHCP %s, xid 0x%08x, client %s",
		name, binary.BigEndian.Uint32(p[4:8]), net.HardwareAddr(p[28:28+hlen]))
	if yiaddr := netip.AddrFrom4([4]byte(p[16:20])); !yiaddr.IsUnspecified() {
		detail += ", yiaddr " + yiaddr.String()
	}
	if siaddr := netip.AddrFrom4([4]byte(p[20:24])); !siaddr.IsUnspecified() {
		detail += ", siaddr " + siaddr.String()
	}
	return ProtoDHCP, detail, true
}

// dhcpOption scans (code, length, value) triplets until the end option or
// the end of the buffer. A truncated option ends the scan.
func dhcpOption(opts []byte, code uint8) ([]byte, bool) {
	for i := 0; i < len(opts); {
		switch opts[i] {
		case dhcpOptEnd:
			return nil, false
		case dhcpOptPad:
			i++
			continue
		}
		if i+1 >= len(opts) {
			return nil, false
		}
		n := int(opts[i+1])
		if i+2+n > len(opts) {
			return nil, false
		}
		if opts[i] == code {
			return opts[i+2 : i+2+n], true
		}
		i += 2 + n
	}
	return nil, false
}
