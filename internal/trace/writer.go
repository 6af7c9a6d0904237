package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/anansi/internal/core"
)

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("trace: writer closed")

// Writer appends frames to a trace. The header is written once by
// NewWriter; every record is flushed to the underlying writer before
// WriteFrame returns. Writer is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	pw      *pcapgo.Writer
	buf     *bufio.Writer
	closer  io.Closer
	snapLen uint32
	count   int
	closed  bool
}

// NewWriter writes the file header to w. A zero snapLen selects DefaultSnapLen.
func NewWriter(w io.Writer, snapLen uint32, linkType layers.LinkType) (*Writer, error) {
	if snapLen == 0 {
		snapLen = DefaultSnapLen
	}
	buf := bufio.NewWriter(w)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(snapLen, linkType); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return &Writer{pw: pw, buf: buf, snapLen: snapLen}, nil
}

// Create creates or truncates the file at path and writes the header.
func Create(path string, snapLen uint32, linkType layers.LinkType) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTraceOpen, err)
	}
	w, err := NewWriter(f, snapLen, linkType)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteFrame appends one record. Frames longer than the snapshot length are
// truncated; the original length is kept. Timestamps outside the
// record's range are clamped.
func (w *Writer) WriteFrame(frame core.RawFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	data := frame.Data
	if uint32(len(data)) > w.snapLen {
		data = data[:w.snapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     frame.TraceTime(),
		CaptureLength: len(data),
		Length:        int(frame.WireLen()),
	}
	if err := w.pw.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush trace record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes and, for writers made by Create, closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
