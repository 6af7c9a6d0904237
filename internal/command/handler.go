// Package command implements the daemon control plane: JSON-RPC 2.0 requests
// that start, stop and inspect the capture session.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"firestige.xyz/anansi/internal/capture"
	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
)

// Method names.
const (
	MethodCaptureStart   = "capture_start"
	MethodCaptureStop    = "capture_stop"
	MethodCaptureStatus  = "capture_status"
	MethodInterfaceList  = "interface_list"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonShutdown = "daemon_shutdown"
)

// Error codes. The -320xx range is reserved for capture errors.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeAlreadyRunning = -32001
)

// Capturer is the capture session the handler drives.
type Capturer interface {
	Start(iface string, opts capture.Options) error
	Stop()
	State() capture.State
	Session() (capture.SessionInfo, error)
	Frames() uint64
	LastError() error
}

// Defaults fill in whatever a capture_start request leaves out.
type Defaults struct {
	Interface string
	Options   capture.Options
}

// Handler executes control requests.
type Handler struct {
	capturer  Capturer
	devices   capture.DeviceSource
	observers func() int

	mu       sync.RWMutex
	defaults Defaults

	shutdownFunc func() // called by daemon_shutdown
	startTime    time.Time
}

// NewHandler creates a handler over c. A nil device source selects
// capture.ListDevices.
func NewHandler(c Capturer, devices capture.DeviceSource, defaults Defaults) *Handler {
	if devices == nil {
		devices = capture.ListDevices
	}
	return &Handler{
		capturer:  c,
		devices:   devices,
		defaults:  defaults,
		observers: func() int { return 0 },
		startTime: time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by daemon_shutdown.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetDefaults replaces the start defaults. Running sessions are unaffected.
func (h *Handler) SetDefaults(d Defaults) {
	h.mu.Lock()
	h.defaults = d
	h.mu.Unlock()
}

// SetObserverCount sets the function reporting registered observers.
func (h *Handler) SetObserverCount(fn func() int) {
	h.observers = fn
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo is the error member of a Response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Err returns the response error, if any.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Decode unmarshals the result into v.
func (r *Response) Decode(v interface{}) error {
	data, err := json.Marshal(r.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func result(req Request, v interface{}) Response {
	return Response{JSONRPC: "2.0", ID: req.ID, Result: v}
}

func failure(req Request, code int, format string, args ...interface{}) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

// Handle executes one request.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	slog.Info("handling command", "method", req.Method, "id", req.ID)

	resp := h.dispatch(ctx, req)
	method, status := req.Method, "ok"
	if resp.Error != nil {
		status = "error"
		if resp.Error.Code == ErrCodeMethodNotFound || method == "" {
			method = "unknown"
		}
	}
	metrics.ControlCommandsTotal.WithLabelValues(method, status).Inc()
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodCaptureStart:
		return h.handleCaptureStart(ctx, req)
	case MethodCaptureStop:
		return h.handleCaptureStop(ctx, req)
	case MethodCaptureStatus:
		return h.handleCaptureStatus(ctx, req)
	case MethodInterfaceList:
		return h.handleInterfaceList(ctx, req)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, req)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, req)
	case "":
		return failure(req, ErrCodeInvalidRequest, "method is required")
	default:
		return failure(req, ErrCodeMethodNotFound, "method %q not found", req.Method)
	}
}

// StartParams are the parameters of capture_start. Zero fields take the
// daemon's configured defaults.
type StartParams struct {
	Interface   string `json:"interface,omitempty"`
	Filter      string `json:"filter,omitempty"`
	Promiscuous *bool  `json:"promiscuous,omitempty"`
	SnapLen     int    `json:"snap_len,omitempty"`
}

func (h *Handler) handleCaptureStart(_ context.Context, req Request) Response {
	var params StartParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return failure(req, ErrCodeInvalidParams, "invalid params: %v", err)
		}
	}

	h.mu.RLock()
	defaults := h.defaults
	h.mu.RUnlock()

	iface := params.Interface
	if iface == "" {
		iface = defaults.Interface
	}
	if iface == "" {
		return failure(req, ErrCodeInvalidParams, "interface is required")
	}
	opts := defaults.Options
	if params.Filter != "" {
		opts.Filter = params.Filter
	}
	if params.Promiscuous != nil {
		opts.Promiscuous = *params.Promiscuous
	}
	if params.SnapLen > 0 {
		opts.SnapLen = params.SnapLen
	}

	if err := h.capturer.Start(iface, opts); err != nil {
		return failure(req, codeFor(err), "start capture failed: %v", err)
	}
	return result(req, map[string]interface{}{
		"interface": iface,
		"filter":    opts.Filter,
		"status":    string(capture.StateRunning),
	})
}

func (h *Handler) handleCaptureStop(_ context.Context, req Request) Response {
	session, err := h.capturer.Session()
	frames := h.capturer.Frames()
	h.capturer.Stop()

	res := map[string]interface{}{
		"status": string(capture.StateIdle),
		"frames": frames,
	}
	if err == nil {
		res["interface"] = session.Interface
	}
	if lastErr := h.capturer.LastError(); lastErr != nil {
		res["last_error"] = lastErr.Error()
	}
	return result(req, res)
}

func (h *Handler) handleCaptureStatus(_ context.Context, req Request) Response {
	res := map[string]interface{}{
		"state":     string(h.capturer.State()),
		"frames":    h.capturer.Frames(),
		"observers": h.observers(),
	}
	if session, err := h.capturer.Session(); err == nil {
		res["interface"] = session.Interface
		res["filter"] = session.Options.Filter
		res["link_type"] = session.LinkType.String()
		res["started_at"] = session.StartedAt.Format(time.RFC3339)
	}
	if lastErr := h.capturer.LastError(); lastErr != nil {
		res["last_error"] = lastErr.Error()
	}
	return result(req, res)
}

// InterfaceInfo is one entry of the interface_list result.
type InterfaceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) handleInterfaceList(_ context.Context, req Request) Response {
	devices, err := h.devices()
	if err != nil {
		return failure(req, ErrCodeInternalError, "list interfaces failed: %v", err)
	}
	list := make([]InterfaceInfo, 0, len(devices))
	for _, d := range devices {
		list = append(list, InterfaceInfo{Name: d.Name, Description: d.Description})
	}
	return result(req, map[string]interface{}{"interfaces": list})
}

func (h *Handler) handleDaemonStatus(_ context.Context, req Request) Response {
	return result(req, map[string]interface{}{
		"pid":        os.Getpid(),
		"uptime_sec": int64(time.Since(h.startTime).Seconds()),
		"state":      string(h.capturer.State()),
		"observers":  h.observers(),
	})
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *Handler) handleDaemonShutdown(_ context.Context, req Request) Response {
	if h.shutdownFunc == nil {
		return failure(req, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return result(req, map[string]interface{}{"status": "shutting_down"})
}

// codeFor maps capture errors onto response codes.
func codeFor(err error) int {
	switch {
	case errors.Is(err, core.ErrAlreadyRunning):
		return ErrCodeAlreadyRunning
	case errors.Is(err, core.ErrInterfaceNotFound),
		errors.Is(err, core.ErrInvalidFilter),
		errors.Is(err, core.ErrConfiguration):
		return ErrCodeInvalidParams
	default:
		return ErrCodeInternalError
	}
}
