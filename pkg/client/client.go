package client

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/shardbroker/pkg/framer"
	"github.com/cuemby/shardbroker/pkg/types"
)

// Client dials one broker's TCP management port and issues framed requests,
// one connection per call — management calls here are infrequent control
// operations, not a pooled hot path.
type Client struct {
	Addr    string
	Timeout time.Duration

	// ClientVersion is stamped into every request header (spec.md §6).
	ClientVersion types.ProtocolVersion
}

// New builds a Client targeting addr ("host:port").
func New(addr string) *Client {
	return &Client{Addr: addr, Timeout: 10 * time.Second}
}

// Call opens a connection, writes one framed request, and reads its framed
// response.
func (c *Client) Call(opcode framer.Opcode, args *framer.ArgWriter) (framer.Response, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", c.Addr, timeout)
	if err != nil {
		return framer.Response{}, fmt.Errorf("client: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := framer.WriteRequest(conn, opcode, c.ClientVersion, args); err != nil {
		return framer.Response{}, fmt.Errorf("client: write request: %w", err)
	}

	resp, err := framer.ReadResponse(conn)
	if err != nil {
		return framer.Response{}, fmt.Errorf("client: read response: %w", err)
	}
	return resp, nil
}
