package vmemcached

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/pior/vmemcached/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteByByte returns a connection serving response one byte per Read.
func byteByByte(response ...string) (*Connection, *testutils.ConnectionMock) {
	mock := testutils.NewConnectionMock(response...)
	mock.ChunkSize = 1
	return NewConnection(mock), mock
}

func requireDriverError(t *testing.T, err error, class ErrorClass) *DriverError {
	t.Helper()
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, class, de.Class, "error: %v", err)
	return de
}

func TestDriver_Do(t *testing.T) {
	tests := []struct {
		name     string
		req      *ascii.Request
		reply    string
		wantSent string
		check    func(t *testing.T, resp *ascii.Response)
	}{
		{
			name:     "get hit",
			req:      ascii.NewRetrievalRequest(ascii.CmdGet, "foo"),
			reply:    "VALUE foo 5 3\r\nbar\r\nEND\r\n",
			wantSent: "get foo\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				require.Len(t, resp.Values, 1)
				assert.Equal(t, "foo", resp.Values[0].Key)
				assert.Equal(t, uint32(5), resp.Values[0].Flags)
				assert.Equal(t, "bar", string(resp.Values[0].Data))
			},
		},
		{
			name:     "get miss",
			req:      ascii.NewRetrievalRequest(ascii.CmdGet, "foo"),
			reply:    "END\r\n",
			wantSent: "get foo\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.True(t, resp.IsMiss())
			},
		},
		{
			name:     "gets multi",
			req:      ascii.NewRetrievalRequest(ascii.CmdGets, "a", "b"),
			reply:    "VALUE a 0 1 10\r\n1\r\nVALUE b 0 1 11\r\n2\r\nEND\r\n",
			wantSent: "gets a b\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				require.Len(t, resp.Values, 2)
				assert.Equal(t, uint64(10), resp.Values[0].CAS)
				assert.Equal(t, uint64(11), resp.Values[1].CAS)
			},
		},
		{
			name:     "set",
			req:      ascii.NewStorageRequest(ascii.CmdSet, "foo", []byte("bar"), 0, 0),
			reply:    "STORED\r\n",
			wantSent: "set foo 0 0 3\r\nbar\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.Equal(t, ascii.StatusStored, resp.Status)
			},
		},
		{
			name:     "add not stored",
			req:      ascii.NewStorageRequest(ascii.CmdAdd, "foo", []byte("bar"), 0, 0),
			reply:    "NOT_STORED\r\n",
			wantSent: "add foo 0 0 3\r\nbar\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.Equal(t, ascii.StatusNotStored, resp.Status)
			},
		},
		{
			name:     "incr",
			req:      ascii.NewArithmeticRequest(ascii.CmdIncr, "counter", 2),
			reply:    "42\r\n",
			wantSent: "incr counter 2\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.Equal(t, uint64(42), resp.Number)
			},
		},
		{
			name:     "decr not found",
			req:      ascii.NewArithmeticRequest(ascii.CmdDecr, "counter", 1),
			reply:    "NOT_FOUND\r\n",
			wantSent: "decr counter 1\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.True(t, resp.IsMiss())
			},
		},
		{
			name:     "version",
			req:      ascii.NewVersionRequest(),
			reply:    "VERSION 1.6.21\r\n",
			wantSent: "version\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.Equal(t, "1.6.21", resp.Version)
			},
		},
		{
			name:     "stats",
			req:      ascii.NewStatsRequest(""),
			reply:    "STAT pid 42\r\nSTAT version 1.6.21\r\nEND\r\n",
			wantSent: "stats\r\n",
			check: func(t *testing.T, resp *ascii.Response) {
				assert.Equal(t, map[string]string{"pid": "42", "version": "1.6.21"}, resp.Stats)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, mock := byteByByte(tt.reply)

			resp, err := NewDriver(Config{}).Do(context.Background(), conn, tt.req)
			require.NoError(t, err)
			tt.check(t, resp)

			assert.Equal(t, tt.wantSent, mock.GetWrittenRequest())
			assert.False(t, conn.IsBroken())
			assert.Equal(t, 0, conn.Buffered())
			assert.Empty(t, mock.Unread())
		})
	}
}

func TestDriver_NoReply(t *testing.T) {
	tests := []struct {
		req  *ascii.Request
		want ascii.Status
	}{
		{ascii.NewStorageRequest(ascii.CmdSet, "foo", []byte("bar"), 0, 0).WithNoReply(), ascii.StatusStored},
		{ascii.NewDeleteRequest("foo").WithNoReply(), ascii.StatusDeleted},
		{ascii.NewTouchRequest("foo", time.Minute).WithNoReply(), ascii.StatusTouched},
	}

	for _, tt := range tests {
		t.Run(string(tt.req.Command), func(t *testing.T) {
			conn, mock := byteByByte()

			resp, err := NewDriver(Config{}).Do(context.Background(), conn, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)

			assert.Contains(t, mock.GetWrittenRequest(), " noreply\r\n")
			assert.Equal(t, 0, mock.Reads(), "noreply must not wait for a reply")
			assert.False(t, conn.IsBroken())
		})
	}
}

func TestDriver_UnexpectedEOF(t *testing.T) {
	for _, reply := range []string{
		"",
		"VALUE foo 0 3\r\nba",
		"STOR",
		"STORED\r",
	} {
		t.Run(reply, func(t *testing.T) {
			conn, _ := byteByByte(reply)

			_, err := NewDriver(Config{}).Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "foo"))
			requireDriverError(t, err, ClassIO)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			assert.True(t, ShouldEvict(err))
			assert.True(t, conn.IsBroken())
		})
	}
}

func TestDriver_MalformedReply(t *testing.T) {
	for _, reply := range []string{
		"BOGUS\r\n",
		"VALUE foo 0 3\r\nbarX\r\nEND\r\n",
		"VALUE foo zero 3\r\nbar\r\nEND\r\n",
		"VALUE foo 0 3\r\nbar\r\nSTORED\r\n",
		"\r\n",
	} {
		t.Run(reply, func(t *testing.T) {
			conn, _ := byteByByte(reply)

			_, err := NewDriver(Config{}).Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "foo"))
			de := requireDriverError(t, err, ClassFraming)
			assert.Equal(t, ascii.ErrorProtocol, de.Kind)

			var pe *ascii.ParseError
			assert.ErrorAs(t, err, &pe)
			assert.True(t, conn.IsBroken())
		})
	}
}

func TestDriver_UnexpectedReplyKind(t *testing.T) {
	tests := []struct {
		req   *ascii.Request
		reply string
	}{
		{ascii.NewStorageRequest(ascii.CmdSet, "foo", []byte("bar"), 0, 0), "END\r\n"},
		{ascii.NewRetrievalRequest(ascii.CmdGet, "foo"), "STORED\r\n"},
		{ascii.NewDeleteRequest("foo"), "STORED\r\n"},
		{ascii.NewTouchRequest("foo", 0), "DELETED\r\n"},
		{ascii.NewArithmeticRequest(ascii.CmdIncr, "foo", 1), "STORED\r\n"},
		{ascii.NewVersionRequest(), "OK\r\n"},
		{ascii.NewFlushAllRequest(0), "VERSION 1.6\r\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.req.Command), func(t *testing.T) {
			conn, _ := byteByByte(tt.reply)

			_, err := NewDriver(Config{}).Do(context.Background(), conn, tt.req)
			de := requireDriverError(t, err, ClassFraming)
			assert.Equal(t, string(tt.req.Command), de.Op)
			assert.True(t, conn.IsBroken())
		})
	}
}

func TestDriver_ServerError(t *testing.T) {
	tests := []struct {
		reply       string
		wantKind    ascii.ErrorKind
		wantMessage string
	}{
		{"ERROR\r\n", ascii.ErrorNonexistentCommand, ""},
		{"ERROR too many tokens\r\n", ascii.ErrorGeneric, "too many tokens"},
		{"CLIENT_ERROR bad data chunk\r\n", ascii.ErrorClient, "bad data chunk"},
		{"SERVER_ERROR out of memory storing object\r\n", ascii.ErrorServer, "out of memory storing object"},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			conn, mock := byteByByte(tt.reply)

			_, err := NewDriver(Config{}).Do(context.Background(), conn, ascii.NewStorageRequest(ascii.CmdSet, "foo", []byte("bar"), 0, 0))
			de := requireDriverError(t, err, ClassServer)
			assert.Equal(t, tt.wantKind, de.Kind)
			assert.Equal(t, tt.wantMessage, de.Message)
			assert.True(t, IsServerError(err))
			assert.False(t, ShouldEvict(err))

			assert.False(t, conn.IsBroken(), "a server error leaves the stream in sync")
			assert.Empty(t, mock.Unread())
		})
	}
}

func TestDriver_TrailingBytesStayPending(t *testing.T) {
	mock := testutils.NewConnectionMock("END\r\nSTORED\r\n")
	conn := NewConnection(mock)
	driver := NewDriver(Config{})

	resp, err := driver.Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "foo"))
	require.NoError(t, err)
	assert.True(t, resp.IsMiss())

	assert.Equal(t, len("STORED\r\n"), conn.Buffered())
	assert.False(t, conn.IsBroken())
	assert.Equal(t, connReadable, conn.probe())
}

func TestDriver_ResponseTooLarge(t *testing.T) {
	mock := testutils.NewConnectionMock("VALUE foo 0 4096\r\n" + strings.Repeat("x", 4096) + "\r\nEND\r\n")
	conn := NewConnection(mock)
	driver := NewDriver(Config{ReadBufferSize: 16, MaxResponseSize: 1024})

	_, err := driver.Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "foo"))
	requireDriverError(t, err, ClassFraming)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.True(t, conn.IsBroken())
}

func TestDriver_GrowsReadBuffer(t *testing.T) {
	value := strings.Repeat("v", 10000)
	mock := testutils.NewConnectionMock("VALUE foo 0 10000\r\n" + value + "\r\nEND\r\n")
	mock.ChunkSize = 700
	conn := NewConnection(mock)
	driver := NewDriver(Config{ReadBufferSize: 16})

	resp, err := driver.Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "foo"))
	require.NoError(t, err)
	require.Len(t, resp.Values, 1)
	assert.Equal(t, value, string(resp.Values[0].Data))
}

func TestDriver_ResponseDoesNotAliasPooledBuffer(t *testing.T) {
	driver := NewDriver(Config{})

	conn, _ := byteByByte("VALUE a 0 3\r\naaa\r\nEND\r\n")
	first, err := driver.Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "a"))
	require.NoError(t, err)

	conn, _ = byteByByte("VALUE b 0 3\r\nbbb\r\nEND\r\n")
	_, err = driver.Do(context.Background(), conn, ascii.NewRetrievalRequest(ascii.CmdGet, "b"))
	require.NoError(t, err)

	assert.Equal(t, "aaa", string(first.Values[0].Data))
}

func TestDriver_BrokenConnection(t *testing.T) {
	conn, mock := byteByByte("STORED\r\n")
	conn.MarkBroken()

	_, err := NewDriver(Config{}).Do(context.Background(), conn, ascii.NewVersionRequest())
	requireDriverError(t, err, ClassIO)
	assert.ErrorIs(t, err, ErrConnBroken)
	assert.Empty(t, mock.GetWrittenRequest())
}

func TestDriver_WriteError(t *testing.T) {
	conn, mock := byteByByte()
	mock.WriteErr = errors.New("connection reset by peer")

	_, err := NewDriver(Config{}).Do(context.Background(), conn, ascii.NewVersionRequest())
	requireDriverError(t, err, ClassIO)
	assert.ErrorIs(t, err, mock.WriteErr)
	assert.True(t, conn.IsBroken())
}

func TestDriver_ContextDoneBeforeSend(t *testing.T) {
	conn, mock := byteByByte("VERSION 1.6\r\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDriver(Config{}).Do(ctx, conn, ascii.NewVersionRequest())
	requireDriverError(t, err, ClassCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ShouldEvict(err))

	assert.Empty(t, mock.GetWrittenRequest())
	assert.False(t, conn.IsBroken(), "nothing was sent, the stream is still in sync")
}

// cancelOnRead cancels a context right after each Read returns.
type cancelOnRead struct {
	net.Conn
	cancel context.CancelFunc
}

func (c cancelOnRead) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.cancel()
	return n, err
}

func TestDriver_ContextCanceledWithReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := testutils.NewConnectionMock("VERSION 1.6\r\n")
	conn := NewConnection(cancelOnRead{Conn: mock, cancel: cancel})
	driver := NewDriver(Config{})

	resp, err := driver.Do(ctx, conn, ascii.NewVersionRequest())
	require.NoError(t, err)
	assert.Equal(t, "1.6", resp.Version)

	// the cancellation callback may fire its deadline after Do returned
	assert.True(t, conn.IsBroken())

	_, err = driver.Do(context.Background(), conn, ascii.NewVersionRequest())
	requireDriverError(t, err, ClassIO)
	assert.ErrorIs(t, err, ErrConnBroken)
}

func TestDriver_ContextNotCanceledKeepsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _ := byteByByte("VERSION 1.6\r\n")

	_, err := NewDriver(Config{}).Do(ctx, conn, ascii.NewVersionRequest())
	require.NoError(t, err)

	cancel()
	assert.False(t, conn.IsBroken())
}

// silentPeer returns a connection whose peer reads everything and never answers.
func silentPeer(t *testing.T) *Connection {
	client, server := net.Pipe()
	go func() { _, _ = io.Copy(io.Discard, server) }()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return NewConnection(client)
}

func TestDriver_ContextDeadline(t *testing.T) {
	conn := silentPeer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewDriver(Config{}).Do(ctx, conn, ascii.NewVersionRequest())
	requireDriverError(t, err, ClassIO)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, conn.IsBroken())
}

func TestDriver_ContextCancelDuringRead(t *testing.T) {
	conn := silentPeer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := NewDriver(Config{}).Do(ctx, conn, ascii.NewVersionRequest())
	requireDriverError(t, err, ClassIO)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, conn.IsBroken())
}
