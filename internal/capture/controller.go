package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/dissect"
	"firestige.xyz/anansi/internal/metrics"
	"firestige.xyz/anansi/internal/observer"
)

// State is the lifecycle state of a Controller.
type State string

const (
	// StateIdle indicates no session exists.
	StateIdle State = "idle"
	// StateStarting indicates a handle is being opened.
	StateStarting State = "starting"
	// StateRunning indicates the read loop is active.
	StateRunning State = "running"
	// StateStopping indicates Stop is waiting for the loop to exit.
	StateStopping State = "stopping"
	// StateFailed indicates the loop ended on a read error. The session is
	// reaped by the next Start or Stop.
	StateFailed State = "failed"
)

// SessionInfo describes the active session.
type SessionInfo struct {
	Interface string
	Options   Options
	LinkType  layers.LinkType
	StartedAt time.Time
}

type session struct {
	info   SessionInfo
	handle Handle
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Uint64

	// err is written by the loop before done is closed.
	err error
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Controller owns at most one capture session. Each Start opens a fresh
// handle and spawns a read loop that reads one frame, dispatches it through
// the registry, and only then reads the next.
type Controller struct {
	registry *observer.Registry
	opener   Opener
	devices  DeviceSource

	// lifecycle serializes Start and Stop; mu guards the fields below and
	// is never held while waiting on the loop.
	lifecycle sync.Mutex
	mu        sync.Mutex
	state     State
	session   *session
	lastErr   error
	linkType  layers.LinkType
}

// NewController creates an idle controller. A nil opener selects libpcap and
// a nil device source selects ListDevices.
func NewController(registry *observer.Registry, opener Opener, devices DeviceSource) *Controller {
	if opener == nil {
		opener = PcapOpener{}
	}
	if devices == nil {
		devices = ListDevices
	}
	return &Controller{
		registry: registry,
		opener:   opener,
		devices:  devices,
		state:    StateIdle,
		linkType: layers.LinkTypeEthernet,
	}
}

// setState updates the state (must hold mu).
func (c *Controller) setState(s State) {
	c.state = s
	slog.Info("capture state changed", "state", s)
}

// Start opens iface and starts the read loop. It returns once the loop is
// running. On error nothing is left open and an existing session is
// untouched.
func (c *Controller) Start(iface string, opts Options) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if s := c.session; s != nil {
		if !s.finished() {
			c.mu.Unlock()
			return fmt.Errorf("%w: session on %s", core.ErrAlreadyRunning, s.info.Interface)
		}
		c.reap(s)
	}
	c.setState(StateStarting)
	c.mu.Unlock()

	s, err := c.open(iface, opts.withDefaults())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.setState(StateIdle)
		return err
	}
	c.session = s
	c.linkType = s.info.LinkType
	c.lastErr = nil
	metrics.CaptureRunning.Set(1)
	go c.run(s)
	c.setState(StateRunning)

	slog.Info("capture started", "interface", iface, "link_type", s.info.LinkType,
		"promiscuous", opts.Promiscuous, "filter", opts.Filter)
	if !dissect.SupportsLinkType(s.info.LinkType) {
		slog.Warn("link type is not decoded, frames will dissect as Unknown",
			"interface", iface, "link_type", s.info.LinkType)
	}
	return nil
}

func (c *Controller) open(iface string, opts Options) (*session, error) {
	devices, err := c.devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", core.ErrResource, err)
	}
	if _, ok := findDevice(devices, iface); !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, iface)
	}

	h, err := c.opener.Open(iface, opts)
	if err != nil {
		if !errors.Is(err, core.ErrConfiguration) && !errors.Is(err, core.ErrResource) {
			err = fmt.Errorf("%w: %s: %v", core.ErrHandleOpen, iface, err)
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		info: SessionInfo{
			Interface: iface,
			Options:   opts,
			LinkType:  h.LinkType(),
			StartedAt: time.Now(),
		},
		handle: h,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Stop signals the loop, waits for it to exit, then closes the handle.
// Stop is a no-op without a session. It must not be called from an
// observer, since the loop cannot exit while the observer is running.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	if !s.finished() {
		c.setState(StateStopping)
	}
	c.mu.Unlock()

	s.cancel()
	<-s.done

	c.mu.Lock()
	c.reap(s)
	c.setState(StateIdle)
	c.mu.Unlock()

	slog.Info("capture stopped", "interface", s.info.Interface, "frames", s.frames.Load())
}

// reap releases a session whose loop has exited (must hold mu).
func (c *Controller) reap(s *session) {
	s.cancel()
	s.handle.Close()
	if s.err != nil {
		c.lastErr = s.err
	}
	c.session = nil
}

func (c *Controller) run(s *session) {
	defer close(s.done)
	defer metrics.CaptureRunning.Set(0)

	iface := s.info.Interface
	snapLen := s.info.Options.SnapLen
	framesTotal := metrics.CaptureFramesTotal.WithLabelValues(iface)
	truncatedTotal := metrics.CaptureTruncatedTotal.WithLabelValues(iface)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.err = fmt.Errorf("%w: %s: %v", core.ErrReadFailed, iface, err)
			metrics.CaptureErrorsTotal.WithLabelValues(iface).Inc()
			slog.Error("capture loop terminated", "interface", iface, "error", err)
			return
		}

		frame := core.RawFrame{Data: data, Timestamp: ci.Timestamp, OrigLen: uint32(ci.Length)}
		if len(data) > snapLen {
			frame.Data = data[:snapLen]
			truncatedTotal.Inc()
		}
		s.frames.Add(1)
		framesTotal.Inc()

		c.registry.Dispatch(frame)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning && c.session != nil && c.session.finished() {
		return StateFailed
	}
	return c.state
}

// LastError returns the error that ended the most recent loop, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.session; s != nil && s.finished() && s.err != nil {
		return s.err
	}
	return c.lastErr
}

// Done returns a channel closed when the current loop exits. Without a
// session the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.session.done
}

// Session describes the running session.
func (c *Controller) Session() (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.finished() {
		return SessionInfo{}, core.ErrNotRunning
	}
	return c.session.info, nil
}

// LinkType returns the link type of the current or most recent session,
// Ethernet before the first.
func (c *Controller) LinkType() layers.LinkType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkType
}

// Frames returns the number of frames read by the current session.
func (c *Controller) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.frames.Load()
}
