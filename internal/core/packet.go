// Package core defines core data structures with zero external dependencies.
package core

import (
	"math"
	"time"
)

// RawFrame is one captured link-layer frame.
//
// Data may be shorter than OrigLen when the frame was truncated to the
// snapshot length. A RawFrame handed to an observer is only valid for the
// duration of that call; observers that keep it must Clone it.
type RawFrame struct {
	Data      []byte    // Captured bytes
	Timestamp time.Time // Capture timestamp, microsecond resolution
	OrigLen   uint32    // Length on the wire
}

// CaptureLen returns the number of bytes actually stored.
func (f RawFrame) CaptureLen() uint32 {
	return uint32(len(f.Data))
}

// WireLen returns the original length, never less than the captured length.
func (f RawFrame) WireLen() uint32 {
	if f.OrigLen < f.CaptureLen() {
		return f.CaptureLen()
	}
	return f.OrigLen
}

// TraceTime returns the timestamp clamped to what a trace record can hold:
// unset and pre-1970 times become the epoch, times past 2106 saturate.
func (f RawFrame) TraceTime() time.Time {
	ts := f.Timestamp
	switch {
	case ts.Unix() < 0:
		return time.Unix(0, 0)
	case ts.Unix() > math.MaxUint32:
		return time.Unix(math.MaxUint32, int64(999999*time.Microsecond))
	}
	return ts
}

// Seconds and Micros split the timestamp the way trace records store it.
func (f RawFrame) Seconds() uint32 {
	return uint32(f.TraceTime().Unix())
}

func (f RawFrame) Micros() uint32 {
	return uint32(f.TraceTime().Nanosecond() / int(time.Microsecond))
}

// Clone returns a copy that does not alias the capture buffer.
func (f RawFrame) Clone() RawFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// ProtocolRecord is the structured result of dissecting one RawFrame.
type ProtocolRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	SrcPort     uint16    `json:"src_port,omitempty"`
	DstPort     uint16    `json:"dst_port,omitempty"`
	Protocol    string    `json:"protocol"`
	Length      int       `json:"length"`
	Detail      string    `json:"detail"`
}

// HasPorts reports whether the record was produced by a port-bearing transport.
func (r ProtocolRecord) HasPorts() bool {
	return r.SrcPort != 0 || r.DstPort != 0
}
