package trace

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"firestige.xyz/anansi/internal/core"
)

// Reader reads records sequentially. It is not safe for concurrent use and
// cannot be rewound.
type Reader struct {
	r      io.Reader
	closer io.Closer
	header Header
	maxLen uint32
	hdr    [RecordHeaderLen]byte
	err    error
}

// NewReader reads and validates the file header from r.
func NewReader(r io.Reader) (*Reader, error) {
	var b [HeaderLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", core.ErrMalformedTrace, err)
	}
	h, err := ParseHeader(b[:])
	if err != nil {
		return nil, err
	}

	maxLen := h.SnapLen
	if maxLen < DefaultSnapLen {
		maxLen = DefaultSnapLen
	}
	return &Reader{r: r, header: h, maxLen: maxLen}, nil
}

// Open opens the trace at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTraceOpen, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next frame. It returns io.EOF when the trace ends on a
// record boundary; a partial record is reported as core.ErrMalformedTrace.
// After an error every later call returns the same error.
func (r *Reader) Next() (core.RawFrame, error) {
	if r.err != nil {
		return core.RawFrame{}, r.err
	}
	frame, err := r.next()
	if err != nil {
		r.err = err
	}
	return frame, err
}

func (r *Reader) next() (core.RawFrame, error) {
	n, err := io.ReadFull(r.r, r.hdr[:])
	switch {
	case errors.Is(err, io.EOF):
		return core.RawFrame{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return core.RawFrame{}, fmt.Errorf("%w: record header is %d bytes, want %d",
			core.ErrMalformedTrace, n, RecordHeaderLen)
	case err != nil:
		return core.RawFrame{}, fmt.Errorf("%w: read record header: %v", core.ErrMalformedTrace, err)
	}

	o := r.header.ByteOrder
	sec := o.Uint32(r.hdr[0:4])
	frac := o.Uint32(r.hdr[4:8])
	capLen := o.Uint32(r.hdr[8:12])
	origLen := o.Uint32(r.hdr[12:16])
	if capLen > r.maxLen {
		return core.RawFrame{}, fmt.Errorf("%w: captured length %d exceeds limit %d",
			core.ErrMalformedTrace, capLen, r.maxLen)
	}

	data := make([]byte, capLen)
	if n, err := io.ReadFull(r.r, data); err != nil {
		return core.RawFrame{}, fmt.Errorf("%w: record declares %d bytes, got %d",
			core.ErrMalformedTrace, capLen, n)
	}

	nsec := int64(frac) * int64(time.Microsecond)
	if r.header.Nanosecond {
		nsec = int64(frac)
	}
	return core.RawFrame{
		Data:      data,
		Timestamp: time.Unix(int64(sec), nsec),
		OrigLen:   origLen,
	}, nil
}

// Frames yields the remaining frames in file order. Iteration stops after
// the first error, which is yielded; a clean end of file yields nothing.
func (r *Reader) Frames() iter.Seq2[core.RawFrame, error] {
	return func(yield func(core.RawFrame, error) bool) {
		for {
			frame, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the file opened by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
