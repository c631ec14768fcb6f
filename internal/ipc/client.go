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
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Sonomap.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Sonomap.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rescan queues another dataset pass.
func (c *Client) Rescan() (*RescanResponse, error) {
	var resp RescanResponse
	if err := c.client.Call("Sonomap.Rescan", RescanRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CacheStats retrieves analysis cache diagnostics.
func (c *Client) CacheStats() (*CacheStatsResponse, error) {
	var resp CacheStatsResponse
	if err := c.client.Call("Sonomap.CacheStats", CacheStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CacheList retrieves cached entries, hottest first.
func (c *Client) CacheList() (*CacheListResponse, error) {
	var resp CacheListResponse
	if err := c.client.Call("Sonomap.CacheList", CacheListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CacheClear drops all cached analyses.
func (c *Client) CacheClear() (*CacheClearResponse, error) {
	var resp CacheClearResponse
	if err := c.client.Call("Sonomap.CacheClear", CacheClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunList retrieves recent run history.
func (c *Client) RunList(limit int) (*RunListResponse, error) {
	var resp RunListResponse
	if err := c.client.Call("Sonomap.RunList", RunListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
