package plugin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	pkg "github.com/zupport/zupport/pkg/plugin"
)

// Client connects to a running binary plugin over a Unix socket or TCP.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	caps pkg.CapabilitiesMsg
}

// Dial connects to a plugin at the given network/address and fetches
// its capabilities.
func Dial(network, address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial plugin at %s://%s: %w", network, address, err)
	}

	c := &Client{conn: conn}
	if err := c.fetchCapabilities(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// DialFromHandshake connects using information from a handshake.
func DialFromHandshake(hs pkg.Handshake, timeout time.Duration) (*Client, error) {
	return Dial(hs.Network, hs.Address, timeout)
}

func (c *Client) fetchCapabilities() error {
	req := pkg.Request{Method: pkg.MethodCapabilities}
	if err := pkg.WriteMessage(c.conn, &req); err != nil {
		return fmt.Errorf("request capabilities: %w", err)
	}

	var resp pkg.Response
	if err := pkg.ReadMessage(c.conn, &resp); err != nil {
		return fmt.Errorf("read capabilities: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("capabilities error: %s", resp.Error)
	}
	if resp.Caps == nil {
		return fmt.Errorf("plugin returned empty capabilities")
	}
	c.caps = *resp.Caps
	return nil
}

// Name returns the name the plugin announced.
func (c *Client) Name() string { return c.caps.Name }

// Capabilities returns the plugin's self-description.
func (c *Client) Capabilities() pkg.CapabilitiesMsg { return c.caps }

// Run sends a run request and waits for the response. Transport errors
// are reported in Response.Error.
func (c *Client) Run(req pkg.Request) pkg.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	req.Method = pkg.MethodRun
	if err := pkg.WriteMessage(c.conn, &req); err != nil {
		return pkg.Response{CallID: req.ID, Error: fmt.Sprintf("write: %v", err)}
	}

	var resp pkg.Response
	if err := pkg.ReadMessage(c.conn, &resp); err != nil {
		return pkg.Response{CallID: req.ID, Error: fmt.Sprintf("read: %v", err)}
	}
	return resp
}

// RunContext is like Run but returns early when ctx is done.
func (c *Client) RunContext(ctx context.Context, req pkg.Request) pkg.Response {
	done := make(chan pkg.Response, 1)
	go func() { done <- c.Run(req) }()

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return pkg.Response{CallID: req.ID, Error: ctx.Err().Error()}
	}
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
