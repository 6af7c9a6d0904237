// Package observer fans captured frames out to pluggable consumers.
package observer

import (
	"sync/atomic"

	"firestige.xyz/anansi/internal/core"
)

// Observer consumes frames. HandleFrame is called from the capture loop
// and must not retain frame.Data after it returns unless it copies it.
type Observer interface {
	HandleFrame(frame core.RawFrame) error
}

// Func adapts an ordinary function to the Observer interface.
type Func func(frame core.RawFrame) error

// HandleFrame calls f(frame).
func (f Func) HandleFrame(frame core.RawFrame) error {
	return f(frame)
}

// Limit returns an observer that calls fn once, from inside the dispatch
// that delivers the n-th frame. n of zero never fires.
func Limit(n uint64, fn func()) Observer {
	var seen atomic.Uint64
	return Func(func(core.RawFrame) error {
		if seen.Add(1) == n {
			fn()
		}
		return nil
	})
}
