package vmemcached

import (
	"bufio"
	"errors"
	"net"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/pior/vmemcached/internal/coarsetime"
)

const (
	defaultWriteBufferSize = 4096

	// Smallest spare capacity ReadMore reads into.
	minReadSize = 512

	// How long the portable liveness probe waits for a byte.
	probeTimeout = time.Millisecond
)

// Connection is one stream to a memcached server: a TCP, TLS or unix
// socket with a write buffer and a small pending-read buffer.
//
// A Connection is not safe for concurrent use. It is owned by whoever
// leased it from the pool, for the duration of one command.
type Connection struct {
	conn   net.Conn
	writer *bufio.Writer

	// Bytes received but not yet consumed: the tail of a previous read that
	// followed a complete response, or the byte read by a probe.
	pending []byte

	createdAt time.Time
	broken    atomic.Bool
}

// NewConnection wraps an established stream.
func NewConnection(conn net.Conn) *Connection {
	return newConnection(conn, defaultWriteBufferSize)
}

func newConnection(conn net.Conn, writeBufferSize int) *Connection {
	return &Connection{
		conn:      conn,
		writer:    bufio.NewWriterSize(conn, writeBufferSize),
		createdAt: coarsetime.Now(),
	}
}

// Write buffers p. Nothing is sent until Flush.
func (c *Connection) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

// WriteRequest encodes req into the write buffer.
func (c *Connection) WriteRequest(req *ascii.Request) error {
	return ascii.WriteRequest(c.writer, req)
}

func (c *Connection) Flush() error {
	return c.writer.Flush()
}

// ReadMore appends the next bytes received to buf and returns the extended
// slice with the number of bytes appended.
//
// Pending bytes are returned first without touching the socket. Otherwise
// ReadMore does a single Read into the spare capacity of buf, growing it
// if there is less than 512 bytes of room. A zero count with a nil error
// is possible and means nothing arrived.
func (c *Connection) ReadMore(buf []byte) ([]byte, int, error) {
	if len(c.pending) > 0 {
		n := len(c.pending)
		buf = append(buf, c.pending...)
		c.pending = c.pending[:0]
		return buf, n, nil
	}

	if cap(buf)-len(buf) < minReadSize {
		buf = slices.Grow(buf, minReadSize)
	}

	n, err := c.conn.Read(buf[len(buf):cap(buf)])
	return buf[:len(buf)+n], n, err
}

// Buffered returns the number of bytes received but not consumed yet.
func (c *Connection) Buffered() int {
	return len(c.pending)
}

// unread puts bytes back in front of the next ReadMore.
func (c *Connection) unread(p []byte) {
	c.pending = append(c.pending, p...)
}

// ProbeAlive reports whether the peer is still connected, without
// consuming any application data.
func (c *Connection) ProbeAlive() bool {
	return c.probe() != connClosed
}

type connState uint8

const (
	connIdle     connState = iota // open, nothing to read
	connReadable                  // open, bytes are waiting
	connClosed                    // EOF or error
)

func (c *Connection) probe() connState {
	if c.broken.Load() {
		return connClosed
	}
	if len(c.pending) > 0 {
		return connReadable
	}
	return probeConn(c)
}

// probeWithDeadline is the portable probe: a one byte read with a very
// short deadline. A byte that does arrive is kept in the pending buffer.
func (c *Connection) probeWithDeadline() connState {
	if err := c.conn.SetReadDeadline(time.Now().Add(probeTimeout)); err != nil {
		return connClosed
	}
	defer c.conn.SetReadDeadline(time.Time{})

	var b [1]byte
	n, err := c.conn.Read(b[:])
	if n > 0 {
		c.pending = append(c.pending, b[:n]...)
		return connReadable
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return connIdle
	}
	if err != nil {
		return connClosed
	}
	return connIdle
}

// SetDeadline sets the read and write deadline of the underlying stream.
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// MarkBroken flags the connection as unusable: its framing state is
// unknown and it must not serve another command.
func (c *Connection) MarkBroken() {
	c.broken.Store(true)
}

func (c *Connection) IsBroken() bool {
	return c.broken.Load()
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) Close() error {
	c.broken.Store(true)
	return c.conn.Close()
}
