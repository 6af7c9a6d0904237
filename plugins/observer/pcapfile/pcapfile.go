// Package pcapfile implements the trace-writing observer.
package pcapfile

import (
	"log/slog"
	"sync"

	"github.com/google/gopacket/layers"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
	"firestige.xyz/anansi/internal/trace"
	"firestige.xyz/anansi/pkg/plugin"
)

// Observer appends every frame to a trace file. The file is created on the
// first frame, so its header carries the link type of the session that
// produced it.
type Observer struct {
	path     string
	snapLen  uint32
	linkType func() layers.LinkType

	mu     sync.Mutex
	w      *trace.Writer
	closed bool
}

// New returns an observer writing to path. linkType is consulted once, when
// the file is created; nil means Ethernet.
func New(path string, snapLen uint32, linkType func() layers.LinkType) *Observer {
	if snapLen == 0 {
		snapLen = trace.DefaultSnapLen
	}
	if linkType == nil {
		linkType = func() layers.LinkType { return layers.LinkTypeEthernet }
	}
	return &Observer{path: path, snapLen: snapLen, linkType: linkType}
}

// Factory builds the observer when output.pcap_file.path is set.
func Factory(env plugin.Env) (plugin.Observer, error) {
	c := env.Config.Output.PcapFile
	if c.Path == "" {
		return nil, nil
	}
	slog.Info("pcap file observer started", "path", c.Path, "snap_len", c.SnapLen)
	return New(c.Path, c.SnapLen, env.LinkType), nil
}

// Name returns the plugin name.
func (o *Observer) Name() string {
	return "pcap_file"
}

// HandleFrame appends f. Failures are returned to the registry, which logs
// them; the next frame retries.
func (o *Observer) HandleFrame(f core.RawFrame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return trace.ErrClosed
	}
	if err := o.openLocked(); err != nil {
		return err
	}
	if err := o.w.WriteFrame(f); err != nil {
		return err
	}
	metrics.TraceRecordsTotal.Inc()
	return nil
}

func (o *Observer) openLocked() error {
	if o.w != nil {
		return nil
	}
	w, err := trace.Create(o.path, o.snapLen, o.linkType())
	if err != nil {
		return err
	}
	o.w = w
	return nil
}

// Count returns the number of records written.
func (o *Observer) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.w == nil {
		return 0
	}
	return o.w.Count()
}

// Close finishes the file. A session that saw no frames still leaves a
// valid header-only trace behind.
func (o *Observer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.openLocked(); err != nil {
		return err
	}
	slog.Info("pcap file observer stopped", "path", o.path, "records", o.w.Count())
	return o.w.Close()
}
