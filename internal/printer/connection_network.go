package printer

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// NetworkConnection is a raw TCP (JetDirect) printer connection.
type NetworkConnection struct {
	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// ConnectNetwork dials host:port, bounded by ctx.
func ConnectNetwork(ctx context.Context, host string, port int, writeTimeout time.Duration) (*NetworkConnection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return &NetworkConnection{conn: conn, writeTimeout: writeTimeout}, nil
}

// Write sends data under the write deadline.
func (c *NetworkConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	n, err := c.conn.Write(data)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrTimeout
	}
	return n, err
}

// PaperStatus asks the printer for its paper sensor state.
func (c *NetworkConnection) PaperStatus() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drain()

	c.conn.SetDeadline(time.Now().Add(statusReadTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if _, err := c.conn.Write(paperStatusQuery); err != nil {
		return err
	}
	var reply [1]byte
	if n, err := c.conn.Read(reply[:]); err != nil || n == 0 {
		return nil
	}
	return parsePaperStatus(reply[0])
}

// drain discards bytes already waiting on the socket, such as a status reply
// that arrived after an earlier query timed out. Callers hold c.mu.
func (c *NetworkConnection) drain() {
	var buf [64]byte
	for i := 0; i < maxDrainReads; i++ {
		c.conn.SetReadDeadline(time.Now().Add(drainWait))
		if _, err := c.conn.Read(buf[:]); err != nil {
			return
		}
	}
}

// Close closes the socket.
func (c *NetworkConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
