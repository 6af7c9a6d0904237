package command

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anansi/internal/capture"
	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
)

type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) Start(iface string, opts capture.Options) error {
	return m.Called(iface, opts).Error(0)
}

func (m *mockCapturer) Stop() { m.Called() }

func (m *mockCapturer) State() capture.State {
	return m.Called().Get(0).(capture.State)
}

func (m *mockCapturer) Session() (capture.SessionInfo, error) {
	args := m.Called()
	return args.Get(0).(capture.SessionInfo), args.Error(1)
}

func (m *mockCapturer) Frames() uint64 {
	return m.Called().Get(0).(uint64)
}

func (m *mockCapturer) LastError() error {
	return m.Called().Error(0)
}

var testDefaults = Defaults{
	Interface: "eth0",
	Options:   capture.Options{Promiscuous: true, Filter: "udp", SnapLen: 1500},
}

func request(t *testing.T, method string, params interface{}) Request {
	t.Helper()
	req := Request{JSONRPC: "2.0", Method: method, ID: "1"}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = data
	}
	return req
}

func resultMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is %T", resp.Result)
	return m
}

func TestHandleCaptureStartDefaults(t *testing.T) {
	c := &mockCapturer{}
	c.On("Start", "eth0", testDefaults.Options).Return(nil).Once()
	h := NewHandler(c, nil, testDefaults)

	resp := h.Handle(context.Background(), request(t, MethodCaptureStart, nil))
	res := resultMap(t, resp)
	assert.Equal(t, "eth0", res["interface"])
	assert.Equal(t, "running", res["status"])
	assert.Equal(t, "1", resp.ID)
	c.AssertExpectations(t)
}

func TestHandleCaptureStartOverrides(t *testing.T) {
	off := false
	want := capture.Options{Promiscuous: false, Filter: "tcp port 80", SnapLen: 96}

	c := &mockCapturer{}
	c.On("Start", "lo", want).Return(nil).Once()
	h := NewHandler(c, nil, testDefaults)

	resp := h.Handle(context.Background(), request(t, MethodCaptureStart,
		StartParams{Interface: "lo", Filter: "tcp port 80", Promiscuous: &off, SnapLen: 96}))
	assert.Equal(t, "tcp port 80", resultMap(t, resp)["filter"])
	c.AssertExpectations(t)
}

func TestHandleCaptureStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"already running", fmt.Errorf("%w: session on eth0", core.ErrAlreadyRunning), ErrCodeAlreadyRunning},
		{"no such interface", fmt.Errorf("%w: eth0", core.ErrInterfaceNotFound), ErrCodeInvalidParams},
		{"bad filter", fmt.Errorf("%w: syntax error", core.ErrInvalidFilter), ErrCodeInvalidParams},
		{"open failed", fmt.Errorf("%w: permission denied", core.ErrHandleOpen), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCapturer{}
			c.On("Start", "eth0", mock.Anything).Return(tt.err)
			h := NewHandler(c, nil, testDefaults)

			resp := h.Handle(context.Background(), request(t, MethodCaptureStart, nil))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.err.Error())
		})
	}
}

func TestHandleSetDefaults(t *testing.T) {
	c := &mockCapturer{}
	c.On("Start", "wlan0", capture.Options{SnapLen: 256}).Return(nil).Once()
	h := NewHandler(c, nil, testDefaults)
	h.SetDefaults(Defaults{Interface: "wlan0", Options: capture.Options{SnapLen: 256}})

	resp := h.Handle(context.Background(), request(t, MethodCaptureStart, nil))
	assert.Equal(t, "wlan0", resultMap(t, resp)["interface"])
	c.AssertExpectations(t)
}

func TestHandleCaptureStartInvalidParams(t *testing.T) {
	h := NewHandler(&mockCapturer{}, nil, Defaults{})

	resp := h.Handle(context.Background(), Request{Method: MethodCaptureStart, Params: json.RawMessage(`[1,2]`)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = h.Handle(context.Background(), request(t, MethodCaptureStart, StartParams{}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "interface is required")
}

func TestHandleCaptureStop(t *testing.T) {
	c := &mockCapturer{}
	c.On("Session").Return(capture.SessionInfo{Interface: "eth0"}, nil)
	c.On("Frames").Return(uint64(42))
	c.On("Stop").Once()
	c.On("LastError").Return(nil)
	h := NewHandler(c, nil, testDefaults)

	res := resultMap(t, h.Handle(context.Background(), request(t, MethodCaptureStop, nil)))
	assert.Equal(t, "eth0", res["interface"])
	assert.Equal(t, uint64(42), res["frames"])
	assert.NotContains(t, res, "last_error")
	c.AssertExpectations(t)
}

func TestHandleCaptureStopNeverStarted(t *testing.T) {
	c := &mockCapturer{}
	c.On("Session").Return(capture.SessionInfo{}, core.ErrNotRunning)
	c.On("Frames").Return(uint64(0))
	c.On("Stop").Once()
	c.On("LastError").Return(nil)
	h := NewHandler(c, nil, testDefaults)

	res := resultMap(t, h.Handle(context.Background(), request(t, MethodCaptureStop, nil)))
	assert.Equal(t, "idle", res["status"])
	assert.NotContains(t, res, "interface")
}

func TestHandleCaptureStatus(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &mockCapturer{}
	c.On("State").Return(capture.StateRunning)
	c.On("Frames").Return(uint64(7))
	c.On("Session").Return(capture.SessionInfo{
		Interface: "eth0",
		Options:   capture.Options{Filter: "udp"},
		LinkType:  layers.LinkTypeEthernet,
		StartedAt: started,
	}, nil)
	c.On("LastError").Return(nil)
	h := NewHandler(c, nil, testDefaults)
	h.SetObserverCount(func() int { return 3 })

	res := resultMap(t, h.Handle(context.Background(), request(t, MethodCaptureStatus, nil)))
	assert.Equal(t, "running", res["state"])
	assert.Equal(t, uint64(7), res["frames"])
	assert.Equal(t, 3, res["observers"])
	assert.Equal(t, "Ethernet", res["link_type"])
	assert.Equal(t, "2024-05-01T12:00:00Z", res["started_at"])
}

func TestHandleCaptureStatusFailed(t *testing.T) {
	c := &mockCapturer{}
	c.On("State").Return(capture.StateFailed)
	c.On("Frames").Return(uint64(0))
	c.On("Session").Return(capture.SessionInfo{}, core.ErrNotRunning)
	c.On("LastError").Return(fmt.Errorf("%w: eth0: link down", core.ErrReadFailed))
	h := NewHandler(c, nil, testDefaults)

	res := resultMap(t, h.Handle(context.Background(), request(t, MethodCaptureStatus, nil)))
	assert.Equal(t, "failed", res["state"])
	assert.Contains(t, res["last_error"], "link down")
	assert.NotContains(t, res, "interface")
}

func TestHandleInterfaceList(t *testing.T) {
	h := NewHandler(&mockCapturer{}, capture.StaticDevices(
		capture.Device{Name: "eth0", Description: "uplink"},
		capture.Device{Name: "lo"},
	), testDefaults)

	res := resultMap(t, h.Handle(context.Background(), request(t, MethodInterfaceList, nil)))
	assert.Equal(t, []InterfaceInfo{{Name: "eth0", Description: "uplink"}, {Name: "lo"}}, res["interfaces"])

	failing := NewHandler(&mockCapturer{}, func() ([]capture.Device, error) {
		return nil, fmt.Errorf("permission denied")
	}, testDefaults)
	resp := failing.Handle(context.Background(), request(t, MethodInterfaceList, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleDaemonShutdown(t *testing.T) {
	h := NewHandler(&mockCapturer{}, nil, testDefaults)

	resp := h.Handle(context.Background(), request(t, MethodDaemonShutdown, nil))
	require.NotNil(t, resp.Error)

	called := make(chan struct{})
	h.SetShutdownFunc(func() { close(called) })
	res := resultMap(t, h.Handle(context.Background(), request(t, MethodDaemonShutdown, nil)))
	assert.Equal(t, "shutting_down", res["status"])
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown func not called")
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	h := NewHandler(&mockCapturer{}, nil, testDefaults)
	unknown := metrics.ControlCommandsTotal.WithLabelValues("unknown", "error")
	before := testutil.ToFloat64(unknown)

	resp := h.Handle(context.Background(), request(t, "task_create", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)

	resp = h.Handle(context.Background(), request(t, "", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, before+2, testutil.ToFloat64(unknown))
}
