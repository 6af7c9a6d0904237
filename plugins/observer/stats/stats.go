// Package stats implements an observer that counts frames per protocol.
package stats

import (
	"log/slog"
	"sort"
	"sync"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/dissect"
	"firestige.xyz/anansi/internal/metrics"
	"firestige.xyz/anansi/pkg/plugin"
)

// Observer dissects each frame and counts it under its protocol label,
// both locally and in anansi_dissect_frames_total.
type Observer struct {
	mu     sync.Mutex
	counts map[string]uint64
	bytes  uint64
}

// New returns an empty counter.
func New() *Observer {
	return &Observer{counts: make(map[string]uint64)}
}

// Factory builds the observer when metrics are enabled.
func Factory(env plugin.Env) (plugin.Observer, error) {
	if !env.Config.Metrics.Enabled {
		return nil, nil
	}
	return New(), nil
}

// Name returns the plugin name.
func (o *Observer) Name() string {
	return "stats"
}

// HandleFrame counts f.
func (o *Observer) HandleFrame(f core.RawFrame) error {
	rec := dissect.Dissect(f)
	metrics.DissectFramesTotal.WithLabelValues(rec.Protocol).Inc()

	o.mu.Lock()
	o.counts[rec.Protocol]++
	o.bytes += uint64(rec.Length)
	o.mu.Unlock()
	return nil
}

// Count is one row of a Snapshot.
type Count struct {
	Protocol string
	Frames   uint64
}

// Snapshot returns the counts sorted by frames, descending, then label.
func (o *Observer) Snapshot() []Count {
	o.mu.Lock()
	out := make([]Count, 0, len(o.counts))
	for p, n := range o.counts {
		out = append(out, Count{Protocol: p, Frames: n})
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frames != out[j].Frames {
			return out[i].Frames > out[j].Frames
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

// Close logs the totals.
func (o *Observer) Close() error {
	o.mu.Lock()
	total := o.bytes
	o.mu.Unlock()

	attrs := []any{"bytes", total}
	for _, c := range o.Snapshot() {
		attrs = append(attrs, c.Protocol, c.Frames)
	}
	slog.Info("protocol statistics", attrs...)
	return nil
}
