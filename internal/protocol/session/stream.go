package session

import (
	"bufio"
	"net"
	"time"
)

// StreamConn continues reading from the reader used for the handshake so
// bytes it buffered past the ack reach the JSON-RPC stream.
type StreamConn struct {
	net.Conn
	r            *bufio.Reader
	writeTimeout time.Duration
}

// NewStreamConn wraps nc for jsonrpc2.NewStream. A positive writeTimeout
// bounds every write.
func NewStreamConn(nc net.Conn, r *bufio.Reader, writeTimeout time.Duration) *StreamConn {
	return &StreamConn{Conn: nc, r: r, writeTimeout: writeTimeout}
}

func (c *StreamConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *StreamConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.Write(p)
}
