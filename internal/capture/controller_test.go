package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/observer"
)

type fakeHandle struct {
	frames   chan []byte
	errs     chan error
	linkType layers.LinkType
	closed   atomic.Bool
	// readAfterClose is set if the loop touches the handle after Close.
	readAfterClose atomic.Bool
	// onRead runs before every read.
	onRead func()
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		frames:   make(chan []byte, 16),
		errs:     make(chan error, 1),
		linkType: layers.LinkTypeEthernet,
	}
}

func (h *fakeHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if h.closed.Load() {
		h.readAfterClose.Store(true)
	}
	if h.onRead != nil {
		h.onRead()
	}
	select {
	case d := <-h.frames:
		return d, gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(d), Length: len(d)}, nil
	case err := <-h.errs:
		return nil, gopacket.CaptureInfo{}, err
	case <-time.After(2 * time.Millisecond):
		return nil, gopacket.CaptureInfo{}, ErrReadTimeout
	}
}

func (h *fakeHandle) LinkType() layers.LinkType { return h.linkType }
func (h *fakeHandle) Close()                    { h.closed.Store(true) }

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(device string, opts Options) (Handle, error) {
	args := m.Called(device, opts)
	h, _ := args.Get(0).(Handle)
	return h, args.Error(1)
}

var testDevices = StaticDevices(Device{Name: "eth0", Description: "test"}, Device{Name: "lo"})

func newTestController(t *testing.T, h Handle) (*Controller, *observer.Registry, *mockOpener) {
	t.Helper()
	reg := observer.NewRegistry()
	op := &mockOpener{}
	op.On("Open", "eth0", mock.Anything).Return(h, nil)
	return NewController(reg, op, testDevices), reg, op
}

func collect(reg *observer.Registry) chan core.RawFrame {
	ch := make(chan core.RawFrame, 64)
	reg.Add(observer.Func(func(f core.RawFrame) error {
		ch <- f.Clone()
		return nil
	}))
	return ch
}

func receive(t *testing.T, ch chan core.RawFrame) core.RawFrame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return core.RawFrame{}
	}
}

func TestControllerStartStop(t *testing.T) {
	h := newFakeHandle()
	c, reg, op := newTestController(t, h)
	frames := collect(reg)

	require.NoError(t, c.Start("eth0", Options{Promiscuous: true}))
	assert.Equal(t, StateRunning, c.State())

	info, err := c.Session()
	require.NoError(t, err)
	assert.Equal(t, "eth0", info.Interface)
	assert.Equal(t, DefaultSnapLen, info.Options.SnapLen)
	assert.Equal(t, DefaultReadTimeout, info.Options.ReadTimeout)

	for i := 0; i < 3; i++ {
		h.frames <- []byte{byte(i), 0xAA}
	}
	for i := 0; i < 3; i++ {
		f := receive(t, frames)
		assert.Equal(t, []byte{byte(i), 0xAA}, f.Data)
	}
	assert.Equal(t, uint64(3), c.Frames())

	c.Stop()

	assert.Equal(t, StateIdle, c.State())
	assert.True(t, h.closed.Load())
	assert.False(t, h.readAfterClose.Load())
	assert.NoError(t, c.LastError())
	_, err = c.Session()
	assert.ErrorIs(t, err, core.ErrNotRunning)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	op.AssertNumberOfCalls(t, "Open", 1)
}

func TestControllerAlreadyRunning(t *testing.T) {
	h := newFakeHandle()
	c, _, op := newTestController(t, h)

	require.NoError(t, c.Start("eth0", Options{SnapLen: 128}))
	defer c.Stop()

	err := c.Start("eth0", Options{SnapLen: 256})
	assert.ErrorIs(t, err, core.ErrAlreadyRunning)
	assert.ErrorIs(t, err, core.ErrState)

	assert.Equal(t, StateRunning, c.State())
	info, err := c.Session()
	require.NoError(t, err)
	assert.Equal(t, 128, info.Options.SnapLen)
	assert.False(t, h.closed.Load())
	op.AssertNumberOfCalls(t, "Open", 1)
}

func TestControllerStopNeverStarted(t *testing.T) {
	c := NewController(observer.NewRegistry(), &mockOpener{}, testDevices)

	c.Stop()
	c.Stop()

	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError())
}

func TestControllerInterfaceNotFound(t *testing.T) {
	op := &mockOpener{}
	c := NewController(observer.NewRegistry(), op, testDevices)

	err := c.Start("wlan9", Options{})

	assert.ErrorIs(t, err, core.ErrInterfaceNotFound)
	assert.ErrorIs(t, err, core.ErrResource)
	assert.Equal(t, StateIdle, c.State())
	op.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestControllerDeviceListError(t *testing.T) {
	c := NewController(observer.NewRegistry(), &mockOpener{}, func() ([]Device, error) {
		return nil, errors.New("permission denied")
	})

	err := c.Start("eth0", Options{})
	assert.ErrorIs(t, err, core.ErrResource)
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"filter", core.ErrInvalidFilter, core.ErrInvalidFilter},
		{"handle", core.ErrHandleOpen, core.ErrHandleOpen},
		{"unclassified", errors.New("no such device"), core.ErrHandleOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &mockOpener{}
			op.On("Open", "eth0", mock.Anything).Return(nil, tt.openErr)
			c := NewController(observer.NewRegistry(), op, testDevices)

			err := c.Start("eth0", Options{Filter: "tcp port 80"})

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateIdle, c.State())
			_, err = c.Session()
			assert.ErrorIs(t, err, core.ErrNotRunning)
		})
	}
}

func TestControllerReadErrorEndsLoop(t *testing.T) {
	h := newFakeHandle()
	c, _, op := newTestController(t, h)

	require.NoError(t, c.Start("eth0", Options{}))
	h.errs <- errors.New("device went away")

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not terminate")
	}

	assert.Equal(t, StateFailed, c.State())
	assert.ErrorIs(t, c.LastError(), core.ErrReadFailed)
	assert.ErrorIs(t, c.LastError(), core.ErrRuntime)

	// A new Start reaps the dead session and opens a fresh handle.
	h2 := newFakeHandle()
	op.ExpectedCalls = nil
	op.On("Open", "eth0", mock.Anything).Return(h2, nil)

	require.NoError(t, c.Start("eth0", Options{}))
	assert.True(t, h.closed.Load())
	assert.Equal(t, StateRunning, c.State())
	assert.NoError(t, c.LastError())
	c.Stop()
	assert.True(t, h2.closed.Load())
}

func TestControllerStopReapsFailedSession(t *testing.T) {
	h := newFakeHandle()
	c, _, _ := newTestController(t, h)

	require.NoError(t, c.Start("eth0", Options{}))
	h.errs <- errors.New("boom")
	<-c.Done()

	c.Stop()
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, h.closed.Load())
	assert.ErrorIs(t, c.LastError(), core.ErrReadFailed)
}

func TestControllerDeliversBeforeNextRead(t *testing.T) {
	h := newFakeHandle()
	c, reg, _ := newTestController(t, h)

	var busy, violated atomic.Bool
	h.onRead = func() {
		if busy.Load() {
			violated.Store(true)
		}
	}
	var delivered atomic.Int64
	reg.Add(observer.Func(func(core.RawFrame) error {
		busy.Store(true)
		time.Sleep(time.Millisecond)
		busy.Store(false)
		return nil
	}))
	reg.Add(observer.Func(func(core.RawFrame) error {
		delivered.Add(1)
		return nil
	}))

	require.NoError(t, c.Start("eth0", Options{}))
	for i := 0; i < 10; i++ {
		h.frames <- []byte{byte(i)}
	}
	assert.Eventually(t, func() bool { return delivered.Load() == 10 }, 2*time.Second, time.Millisecond)
	c.Stop()

	assert.False(t, violated.Load())
}

func TestControllerStopWaitsForLoop(t *testing.T) {
	h := newFakeHandle()
	c, reg, _ := newTestController(t, h)

	entered := make(chan struct{})
	release := make(chan struct{})
	var closedDuringDispatch atomic.Bool
	reg.Add(observer.Func(func(core.RawFrame) error {
		close(entered)
		<-release
		closedDuringDispatch.Store(h.closed.Load())
		return nil
	}))

	require.NoError(t, c.Start("eth0", Options{}))
	h.frames <- []byte{1}
	<-entered

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an observer was still running")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, StateStopping, c.State())

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, closedDuringDispatch.Load())
	assert.True(t, h.closed.Load())
}

func TestControllerTruncatesToSnapLen(t *testing.T) {
	h := newFakeHandle()
	c, reg, _ := newTestController(t, h)
	frames := collect(reg)

	require.NoError(t, c.Start("eth0", Options{SnapLen: 10}))
	defer c.Stop()
	h.frames <- make([]byte, 100)

	f := receive(t, frames)
	assert.Len(t, f.Data, 10)
	assert.Equal(t, uint32(100), f.OrigLen)
}

func TestControllerLinkType(t *testing.T) {
	h := newFakeHandle()
	h.linkType = layers.LinkTypeRaw
	c, _, _ := newTestController(t, h)

	assert.Equal(t, layers.LinkTypeEthernet, c.LinkType())
	require.NoError(t, c.Start("eth0", Options{}))
	assert.Equal(t, layers.LinkTypeRaw, c.LinkType())
	c.Stop()
	assert.Equal(t, layers.LinkTypeRaw, c.LinkType())
}

func TestControllerObserverFailureKeepsLoopRunning(t *testing.T) {
	h := newFakeHandle()
	c, reg, _ := newTestController(t, h)
	reg.Add(observer.Func(func(core.RawFrame) error { return errors.New("write failed") }))
	frames := collect(reg)

	require.NoError(t, c.Start("eth0", Options{}))
	defer c.Stop()
	h.frames <- []byte{1}
	h.frames <- []byte{2}

	assert.Equal(t, []byte{1}, receive(t, frames).Data)
	assert.Equal(t, []byte{2}, receive(t, frames).Data)
	assert.Equal(t, StateRunning, c.State())
}

func TestControllerConcurrentStartStop(t *testing.T) {
	c := NewController(observer.NewRegistry(), freshOpener{}, testDevices)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = c.Start("eth0", Options{})
				c.Stop()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateIdle, c.State())
}

// freshOpener hands out a new fake handle per Open.
type freshOpener struct{}

func (freshOpener) Open(string, Options) (Handle, error) {
	return newFakeHandle(), nil
}

func TestRingSize(t *testing.T) {
	tests := []struct {
		buffer, snap, page int
	}{
		{2 << 20, 65535, 4096},
		{64 << 20, 1514, 4096},
		{1 << 20, 96, 4096},
		{4096, 65535, 4096},
		{8 << 20, 9000, 16384},
	}
	for _, tt := range tests {
		frame, block, blocks, err := ringSize(tt.buffer, tt.snap, tt.page)
		require.NoError(t, err)
		assert.Zero(t, frame%tpacketAlignment, "frame %d", frame)
		assert.GreaterOrEqual(t, frame, tt.snap+tpacketHdrLen)
		assert.Zero(t, block%tt.page, "block %d", block)
		assert.Zero(t, block%frame, "block %d frame %d", block, frame)
		assert.GreaterOrEqual(t, blocks, 1)
	}

	_, _, _, err := ringSize(0, 1500, 4096)
	assert.Error(t, err)
	_, _, _, err = ringSize(1<<20, 0, 4096)
	assert.Error(t, err)
	_, _, _, err = ringSize(1<<20, 1500, 100)
	assert.Error(t, err)
}
