package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
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
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func call[Req any, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests an inference session.
func (c *Client) Start(dataURL, videoURL string) (*StartResponse, error) {
	return call[StartRequest, StartResponse](c, "Start", StartRequest{DataURL: dataURL, VideoURL: videoURL})
}

// Stop ends the inference session.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopRequest, StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// ApplySetting changes a runtime setting.
func (c *Client) ApplySetting(name, value string) (*ApplySettingResponse, error) {
	return call[ApplySettingRequest, ApplySettingResponse](c, "ApplySetting", ApplySettingRequest{Name: name, Value: value})
}

// Health returns the health code; check runs a tracked sample.
func (c *Client) Health(check bool) (*HealthResponse, error) {
	return call[HealthRequest, HealthResponse](c, "Health", HealthRequest{Check: check})
}

// History lists journaled packets.
func (c *Client) History(limit int, withFrame bool) (*HistoryResponse, error) {
	return call[HistoryRequest, HistoryResponse](c, "History", HistoryRequest{Limit: limit, WithFrame: withFrame})
}
