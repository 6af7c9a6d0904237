package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client for the control socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a client. A zero timeout means 10s.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends one request and waits for its response. A JSON-RPC error is
// returned in the Response, not as err.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      fmt.Sprintf("req-%d", time.Now().UnixNano()),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = data
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if got := fmt.Sprintf("%v", resp.ID); got != req.ID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", req.ID, got)
	}
	return &resp, nil
}

// CaptureStart starts a session; zero params use the daemon defaults.
func (c *UDSClient) CaptureStart(ctx context.Context, params StartParams) (*Response, error) {
	return c.Call(ctx, MethodCaptureStart, params)
}

// CaptureStop stops the running session.
func (c *UDSClient) CaptureStop(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodCaptureStop, nil)
}

// CaptureStatus reports the session state.
func (c *UDSClient) CaptureStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodCaptureStatus, nil)
}

// Interfaces lists the daemon's capturable interfaces.
func (c *UDSClient) Interfaces(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodInterfaceList, nil)
}

// DaemonStatus reports daemon-level information.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonStatus, nil)
}

// Shutdown asks the daemon to exit.
func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonShutdown, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	resp, err := c.DaemonStatus(ctx)
	if err != nil {
		return err
	}
	return resp.Err()
}
