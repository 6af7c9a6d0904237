package observer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
)

type entry struct {
	id  uuid.UUID
	obs Observer
}

// Registry holds observers in registration order.
//
// The entry slice is copy-on-write: Add and Remove build a new slice under
// the write lock, and Dispatch takes the current slice under the read lock
// and iterates it unlocked. A pass therefore sees the membership as of its
// start even if observers are added or removed meanwhile, and an observer
// may remove itself from inside HandleFrame.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers o and returns its id. Ids are random UUIDs and are never
// handed out twice.
func (r *Registry) Add(o Observer) uuid.UUID {
	id := uuid.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]entry, len(r.entries), len(r.entries)+1)
	copy(next, r.entries)
	r.entries = append(next, entry{id: id, obs: o})
	metrics.ObserversRegistered.Set(float64(len(r.entries)))

	slog.Debug("observer added", "observer_id", id)
	return id
}

// Remove unregisters the observer with id and reports whether it was present.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id != id {
			continue
		}
		next := make([]entry, 0, len(r.entries)-1)
		next = append(next, r.entries[:i]...)
		r.entries = append(next, r.entries[i+1:]...)
		metrics.ObserversRegistered.Set(float64(len(r.entries)))

		slog.Debug("observer removed", "observer_id", id)
		return true
	}
	return false
}

// Len returns the number of registered observers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch delivers frame to every observer registered when the call began,
// in registration order. Errors and panics are logged per observer and do
// not stop delivery to the rest. It returns the number of failed observers.
func (r *Registry) Dispatch(frame core.RawFrame) int {
	r.mu.RLock()
	snapshot := r.entries
	r.mu.RUnlock()

	failed := 0
	for _, e := range snapshot {
		if err := deliver(e.obs, frame); err != nil {
			failed++
			metrics.ObserverErrorsTotal.Inc()
			slog.Warn("observer failed", "observer_id", e.id, "error", err)
		}
	}
	return failed
}

func deliver(o Observer, frame core.RawFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.HandleFrame(frame)
}
