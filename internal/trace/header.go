// Package trace reads and writes capture files in the classic pcap layout.
//
// A file is a 24-byte header followed by records. Each record is a 16-byte
// header (seconds, microseconds, captured length, original length) and the
// captured bytes. Files are written little-endian with microsecond
// timestamps; the reader also accepts big-endian and nanosecond files.
package trace

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/anansi/internal/core"
)

const (
	// MagicMicroseconds is stored little-endian as D4 C3 B2 A1.
	MagicMicroseconds uint32 = 0xA1B2C3D4
	MagicNanoseconds  uint32 = 0xA1B23C4D

	VersionMajor = 2
	VersionMinor = 4

	HeaderLen       = 24
	RecordHeaderLen = 16

	// DefaultSnapLen is written when the caller does not choose one.
	DefaultSnapLen uint32 = 0x00040000
)

// Header is the file header.
type Header struct {
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	LinkType     layers.LinkType

	// Nanosecond is set when record timestamps carry nanoseconds.
	Nanosecond bool
	ByteOrder  binary.ByteOrder
}

// ParseHeader decodes the first HeaderLen bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", core.ErrMalformedTrace, len(b), HeaderLen)
	}

	var h Header
	switch {
	case binary.LittleEndian.Uint32(b[0:4]) == MagicMicroseconds:
		h.ByteOrder = binary.LittleEndian
	case binary.BigEndian.Uint32(b[0:4]) == MagicMicroseconds:
		h.ByteOrder = binary.BigEndian
	case binary.LittleEndian.Uint32(b[0:4]) == MagicNanoseconds:
		h.ByteOrder, h.Nanosecond = binary.LittleEndian, true
	case binary.BigEndian.Uint32(b[0:4]) == MagicNanoseconds:
		h.ByteOrder, h.Nanosecond = binary.BigEndian, true
	default:
		return Header{}, fmt.Errorf("%w: unknown magic % x", core.ErrMalformedTrace, b[0:4])
	}

	o := h.ByteOrder
	h.VersionMajor = o.Uint16(b[4:6])
	h.VersionMinor = o.Uint16(b[6:8])
	h.ThisZone = int32(o.Uint32(b[8:12]))
	h.SigFigs = o.Uint32(b[12:16])
	h.SnapLen = o.Uint32(b[16:20])
	h.LinkType = layers.LinkType(o.Uint32(b[20:24]))
	return h, nil
}
