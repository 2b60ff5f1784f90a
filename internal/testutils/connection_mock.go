package testutils

import (
	"bytes"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// ConnectionMock is a mock implementation of net.Conn for testing.
// Reads serve the scripted response data, at most ChunkSize bytes at a
// time when ChunkSize is set, then io.EOF.
type ConnectionMock struct {
	// ChunkSize caps the bytes returned by each Read. Zero means no cap.
	ChunkSize int

	// ReadErr, if set, is returned once the response data is exhausted
	// instead of io.EOF.
	ReadErr error

	// WriteErr, if set, fails every Write.
	WriteErr error

	mu        sync.Mutex
	readBuf   *bytes.Buffer
	writeBuf  *bytes.Buffer
	closed    bool
	reads     int
	deadline  time.Time
	deadlines int
}

// NewConnectionMock creates a new mock connection with pre-configured response data
func NewConnectionMock(responseData ...string) *ConnectionMock {
	return &ConnectionMock{
		readBuf:  bytes.NewBufferString(strings.Join(responseData, "")),
		writeBuf: &bytes.Buffer{},
	}
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if !m.deadline.IsZero() && time.Now().After(m.deadline) {
		return 0, os.ErrDeadlineExceeded
	}

	m.reads++
	if m.readBuf.Len() == 0 && m.ReadErr != nil {
		return 0, m.ReadErr
	}
	if m.ChunkSize > 0 && len(b) > m.ChunkSize {
		b = b[:m.ChunkSize]
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	return m.writeBuf.Write(b)
}

// AddResponse appends data to what the next reads return.
func (m *ConnectionMock) AddResponse(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.WriteString(data)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	m.deadlines++
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return m.SetDeadline(t) }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// GetWrittenRequest returns the raw request bytes written to the mock connection
func (m *ConnectionMock) GetWrittenRequest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuf.String()
}

// Unread returns the scripted bytes not read yet.
func (m *ConnectionMock) Unread() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuf.String()
}

// Reads returns the number of Read calls made.
func (m *ConnectionMock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *ConnectionMock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
