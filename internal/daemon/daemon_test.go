package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anansi/internal/capture"
	"firestige.xyz/anansi/internal/command"
	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/trace"

	_ "firestige.xyz/anansi/plugins"
)

// replayHandle delivers frames once, then reports read timeouts.
type replayHandle struct {
	mu     sync.Mutex
	frames [][]byte
}

func (h *replayHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.frames) == 0 {
		time.Sleep(time.Millisecond)
		return nil, gopacket.CaptureInfo{}, capture.ErrReadTimeout
	}
	d := h.frames[0]
	h.frames = h.frames[1:]
	return d, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(d), Length: len(d)}, nil
}

func (h *replayHandle) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (h *replayHandle) Close()                    {}

// replayOpener hands every session the same number of frames.
type replayOpener struct {
	frames int
}

func (o replayOpener) Open(string, capture.Options) (capture.Handle, error) {
	h := &replayHandle{}
	for i := 0; i < o.frames; i++ {
		h.frames = append(h.frames, bytes.Repeat([]byte{0xab}, 60))
	}
	return h, nil
}

var devices = capture.StaticDevices(capture.Device{Name: "eth0"}, capture.Device{Name: "lo"})

func testConfig(t *testing.T) *config.GlobalConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Control.Socket = filepath.Join(dir, "anansi.sock")
	cfg.Control.PIDFile = filepath.Join(dir, "anansi.pid")
	cfg.Output.Console.Enabled = false
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interface = "eth0"
	cfg.Output.PcapFile.Path = filepath.Join(t.TempDir(), "daemon.pcap")

	d := New(cfg, Deps{Opener: replayOpener{frames: 3}, Devices: devices})
	require.NoError(t, d.Start())

	pid, err := os.ReadFile(cfg.Control.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(pid)))
	waitFor(t, func() bool { return d.Controller().Frames() == 3 })

	client := command.NewUDSClient(cfg.Control.Socket, time.Second)
	resp, err := client.CaptureStatus(context.Background())
	require.NoError(t, err)
	var status struct {
		State     string `json:"state"`
		Interface string `json:"interface"`
		Observers int    `json:"observers"`
	}
	require.NoError(t, resp.Decode(&status))
	assert.Equal(t, "running", status.State)
	assert.Equal(t, "eth0", status.Interface)
	assert.Equal(t, 1, status.Observers)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	resp, err = client.Shutdown(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	assert.Equal(t, capture.StateIdle, d.Controller().State())
	_, err = os.Stat(cfg.Control.Socket)
	assert.True(t, os.IsNotExist(err), "socket should be removed")
	_, err = os.Stat(cfg.Control.PIDFile)
	assert.True(t, os.IsNotExist(err), "pid file should be removed")

	r, err := trace.Open(cfg.Output.PcapFile.Path)
	require.NoError(t, err)
	defer r.Close()
	var n int
	for _, err := range r.Frames() {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestDaemonInitialCaptureFailureKeepsServing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interface = "wlan9"

	d := New(cfg, Deps{Opener: replayOpener{}, Devices: devices})
	require.NoError(t, d.Start())
	defer d.Stop()
	assert.Equal(t, capture.StateIdle, d.Controller().State())

	client := command.NewUDSClient(cfg.Control.Socket, time.Second)
	resp, err := client.CaptureStart(context.Background(), command.StartParams{Interface: "lo"})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, capture.StateRunning, d.Controller().State())
}

func TestDaemonRunStopsOnContext(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg, Deps{Opener: replayOpener{}, Devices: devices})
	require.NoError(t, d.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	_, err := os.Stat(cfg.Control.Socket)
	assert.True(t, os.IsNotExist(err))
	d.Stop()
}

func TestDaemonReload(t *testing.T) {
	cfg := testConfig(t)
	next := *cfg
	next.Capture.Interface = "lo"
	next.Capture.SnapLen = 128
	next.Metrics.Listen = ":9999"

	d := New(cfg, Deps{
		Opener:  replayOpener{},
		Devices: devices,
		Reload:  func() (*config.GlobalConfig, error) { return &next, nil },
	})
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.Reload())
	assert.Equal(t, ":9091", cfg.Metrics.Listen, "cold settings keep their startup value")

	client := command.NewUDSClient(cfg.Control.Socket, time.Second)
	resp, err := client.CaptureStart(context.Background(), command.StartParams{})
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	session, err := d.Controller().Session()
	require.NoError(t, err)
	assert.Equal(t, "lo", session.Interface)
	assert.Equal(t, 128, session.Options.SnapLen)
}

func TestDaemonReloadUnsupported(t *testing.T) {
	d := New(testConfig(t), Deps{})
	assert.Error(t, d.Reload())
}

func TestDaemonStartFailureCleansUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.Socket = filepath.Join(t.TempDir(), "missing", "anansi.sock")

	d := New(cfg, Deps{Opener: replayOpener{}, Devices: devices})
	require.Error(t, d.Start())

	_, err := os.Stat(cfg.Control.PIDFile)
	assert.True(t, os.IsNotExist(err), "pid file should be removed")
	d.Stop()
}
