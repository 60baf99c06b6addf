package ipc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"folio/internal/services"
)

// Client provides RPC access to the daemon. Its methods mirror Service so
// callers can use either interchangeably.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call invokes method and restores the error marker of server errors so
// callers can classify them with errors.Is.
func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	done := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1)).Done
	select {
	case <-ctx.Done():
		return ctx.Err()
	case call := <-done:
		var serverErr rpc.ServerError
		if errors.As(call.Error, &serverErr) {
			return services.Decode(string(serverErr))
		}
		return call.Error
	}
}

// Capture runs a capture on the daemon.
func (c *Client) Capture(ctx context.Context, req CaptureRequest) (*CaptureResponse, error) {
	var resp CaptureResponse
	if err := c.call(ctx, "Capture", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calibrate runs calibration on the daemon.
func (c *Client) Calibrate(ctx context.Context, req CalibrateRequest) (*CalibrateResponse, error) {
	var resp CalibrateResponse
	if err := c.call(ctx, "Calibrate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cameras lists registered cameras.
func (c *Client) Cameras(ctx context.Context, req CamerasRequest) (*CamerasResponse, error) {
	var resp CamerasResponse
	if err := c.call(ctx, "Cameras", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetLabel updates a camera's machine id and label.
func (c *Client) SetLabel(ctx context.Context, req SetLabelRequest) (*SetLabelResponse, error) {
	var resp SetLabelResponse
	if err := c.call(ctx, "SetLabel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitProject initializes a project.
func (c *Client) InitProject(ctx context.Context, req InitProjectRequest) (*InitProjectResponse, error) {
	var resp InitProjectResponse
	if err := c.call(ctx, "InitProject", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Projects lists initialized projects.
func (c *Client) Projects(ctx context.Context, req ProjectsRequest) (*ProjectsResponse, error) {
	var resp ProjectsResponse
	if err := c.call(ctx, "Projects", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
