package station

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/js8emu/pkg/protocol"
)

// ErrClosed is returned when writing to a connection that has been closed
var ErrClosed = errors.New("station: connection closed")

// DefaultWriteTimeout bounds a single write. A peer that stops reading fills
// its socket buffer; the write then fails instead of stalling the caller.
const DefaultWriteTimeout = 500 * time.Millisecond

// Connection wraps the single client socket of an interface.
//
// The receive buffer is only touched by the reactor goroutine. Writes may come
// from the reactor (immediate replies) and from transmission jobs, so every
// encode+write runs under mu and is bounded by writeTimeout. Close does not
// take mu: closing the socket is what unblocks a writer stuck on a slow peer.
type Connection struct {
	conn         net.Conn
	addr         string
	writeTimeout time.Duration

	buffer []byte

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps an accepted socket
func NewConnection(conn net.Conn) *Connection {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Connection{
		conn:         conn,
		addr:         addr,
		writeTimeout: DefaultWriteTimeout,
	}
}

// SetWriteTimeout changes the bound applied to each write. Zero or less
// disables it.
func (c *Connection) SetWriteTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimeout = d
}

// Addr returns the peer address
func (c *Connection) Addr() string {
	return c.addr
}

// Read performs one read on the underlying socket
func (c *Connection) Read(p []byte) (int, error) {
	if c.Closed() {
		return 0, ErrClosed
	}
	return c.conn.Read(p)
}

// Append adds received bytes to the receive buffer
func (c *Connection) Append(data []byte) {
	c.buffer = append(c.buffer, data...)
}

// NextLine pops the next complete line from the receive buffer, without its
// terminator. It returns false when no complete line is buffered.
func (c *Connection) NextLine() ([]byte, bool) {
	nl := bytes.IndexByte(c.buffer, '\n')
	if nl < 0 {
		return nil, false
	}
	line := make([]byte, nl)
	copy(line, c.buffer[:nl])
	c.buffer = c.buffer[nl+1:]
	if len(c.buffer) == 0 {
		c.buffer = nil
	}
	return line, true
}

// Buffered returns the number of bytes waiting for a line terminator
func (c *Connection) Buffered() int {
	return len(c.buffer)
}

// WriteMessages encodes msgs into one buffer and hands it to the socket in a
// single Write call. The lock covers both steps, so messages written together
// are never interleaved with another writer's output.
func (c *Connection) WriteMessages(msgs ...protocol.Message) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrClosed
	}

	var buf bytes.Buffer
	for _, msg := range msgs {
		if err := protocol.EncodeTo(&buf, msg); err != nil {
			return nil, err
		}
	}

	payload := buf.Bytes()
	if err := c.write(payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// Write sends raw bytes under the write lock
func (c *Connection) Write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	return c.write(payload)
}

// write performs one deadline-bounded write. Callers hold mu.
func (c *Connection) write(payload []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(payload)
	return err
}

// Closed reports whether Close has been called
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Close closes the socket. It is idempotent and safe for concurrent use.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
