package dissect

import (
	"encoding/binary"
	"fmt"
)

const (
	tlsRecordHeaderLen  = 5
	tlsMaxRecordLen     = 1<<14 + 2048
	tlsContentHandshake = 0x16
)

var tlsVersions = map[uint16]string{
	0x0300: "SSL 3.0",
	0x0301: "TLS 1.0",
	0x0302: "TLS 1.1",
	0x0303: "TLS 1.2",
	0x0304: "TLS 1.3",
}

var tlsContentTypes = map[uint8]string{
	0x14: "Change Cipher Spec",
	0x15: "Alert",
	0x16: "Handshake",
	0x17: "Application Data",
	0x18: "Heartbeat",
}

var tlsHandshakeTypes = map[uint8]string{
	0x00: "Hello Request",
	0x01: "Client Hello",
	0x02: "Server Hello",
	0x04: "New Session Ticket",
	0x08: "Encrypted Extensions",
	0x0b: "Certificate",
	0x0c: "Server Key Exchange",
	0x0d: "Certificate Request",
	0x0e: "Server Hello Done",
	0x0f: "Certificate Verify",
	0x10: "Client Key Exchange",
	0x14: "Finished",
}

// dissectTLS reads a TLS record header: content type, version, length.
// Handshake records also name the handshake message at offset 5.
func dissectTLS(p []byte) (string, string, bool) {
	if len(p) < tlsRecordHeaderLen {
		return "", "", false
	}
	contentType, ok := tlsContentTypes[p[0]]
	if !ok {
		return "", "", false
	}
	version, ok := tlsVersions[binary.BigEndian.Uint16(p[1:3])]
	if !ok {
		return "", "", false
	}
	length := binary.BigEndian.Uint16(p[3:5])
	if length > tlsMaxRecordLen {
		return "", "", false
	}

	detail := version + " " + contentType
	if p[0] == tlsContentHandshake && len(p) > tlsRecordHeaderLen {
		name, ok := tlsHandshakeTypes[p[5]]
		if !ok {
			name = fmt.Sprintf("type 0x%02x", p[5])
		}
		detail += " (" + name + ")"
	}
	return ProtoTLS, fmt.Sprintf("%s, length %d", detail, length), true
}
