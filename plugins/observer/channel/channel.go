// Package channel implements an observer that forwards frames onto a Go
// channel for consumers outside the capture loop.
package channel

import (
	"sync"
	"sync/atomic"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
)

// Observer copies each frame onto a buffered channel. It never blocks the
// capture loop: when the buffer is full the frame is dropped and counted.
type Observer struct {
	mu     sync.RWMutex
	ch     chan core.RawFrame
	closed bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New returns an observer with the given buffer capacity.
func New(capacity int) *Observer {
	if capacity < 0 {
		capacity = 0
	}
	return &Observer{ch: make(chan core.RawFrame, capacity)}
}

// C returns the receive side. It is closed by Close.
func (o *Observer) C() <-chan core.RawFrame {
	return o.ch
}

// Name returns the plugin name.
func (o *Observer) Name() string {
	return "channel"
}

// HandleFrame forwards a copy of f.
func (o *Observer) HandleFrame(f core.RawFrame) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil
	}
	select {
	case o.ch <- f.Clone():
		o.sent.Add(1)
	default:
		o.dropped.Add(1)
		metrics.ChannelDropsTotal.Inc()
	}
	return nil
}

// Sent returns the number of frames forwarded.
func (o *Observer) Sent() uint64 {
	return o.sent.Load()
}

// Dropped returns the number of frames lost to a full buffer.
func (o *Observer) Dropped() uint64 {
	return o.dropped.Load()
}

// Close closes the channel. Frames handled afterwards are ignored.
func (o *Observer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
	return nil
}
