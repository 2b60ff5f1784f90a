package ascii

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestWriteStorageRequest(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "basic set",
			req:      NewStorageRequest(CmdSet, "foo", []byte("bar"), 0, 0),
			expected: "set foo 0 0 3\r\nbar\r\n",
		},
		{
			name:     "set with zero-length value",
			req:      NewStorageRequest(CmdSet, "foo", nil, 0, 0),
			expected: "set foo 0 0 0\r\n\r\n",
		},
		{
			name:     "set with flags and ttl",
			req:      NewStorageRequest(CmdSet, "foo", []byte("hello"), 42, time.Hour),
			expected: "set foo 42 3600 5\r\nhello\r\n",
		},
		{
			name:     "ttl truncated to seconds",
			req:      NewStorageRequest(CmdAdd, "foo", []byte("x"), 0, 1500*time.Millisecond),
			expected: "add foo 0 1 1\r\nx\r\n",
		},
		{
			name:     "negative ttl rendered as zero",
			req:      NewStorageRequest(CmdReplace, "foo", []byte("x"), 0, -time.Second),
			expected: "replace foo 0 0 1\r\nx\r\n",
		},
		{
			name:     "append noreply",
			req:      NewStorageRequest(CmdAppend, "foo", []byte("tail"), 0, 0).WithNoReply(),
			expected: "append foo 0 0 4 noreply\r\ntail\r\n",
		},
		{
			name:     "prepend",
			req:      NewStorageRequest(CmdPrepend, "foo", []byte("head"), 0, 0),
			expected: "prepend foo 0 0 4\r\nhead\r\n",
		},
		{
			name:     "cas",
			req:      NewCASRequest("foo", []byte("bar"), 1, 0, 12345),
			expected: "cas foo 1 0 3 12345\r\nbar\r\n",
		},
		{
			name:     "cas noreply",
			req:      NewCASRequest("foo", []byte("bar"), 0, time.Minute, 7).WithNoReply(),
			expected: "cas foo 0 60 3 7 noreply\r\nbar\r\n",
		},
		{
			name:     "value containing CRLF",
			req:      NewStorageRequest(CmdSet, "foo", []byte("a\r\nb"), 0, 0),
			expected: "set foo 0 0 4\r\na\r\nb\r\n",
		},
		{
			name:     "auth",
			req:      NewAuthRequest("user", "secret"),
			expected: "set auth 0 0 11\r\nuser secret\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertEncoding(t, tt.req, tt.expected)
		})
	}
}

func TestWriteOtherRequests(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "get",
			req:      NewRetrievalRequest(CmdGet, "foo"),
			expected: "get foo\r\n",
		},
		{
			name:     "gets multiple keys",
			req:      NewRetrievalRequest(CmdGets, "foo", "bar", "baz"),
			expected: "gets foo bar baz\r\n",
		},
		{
			name:     "get ignores noreply",
			req:      NewRetrievalRequest(CmdGet, "foo").WithNoReply(),
			expected: "get foo\r\n",
		},
		{
			name:     "delete",
			req:      NewDeleteRequest("foo"),
			expected: "delete foo\r\n",
		},
		{
			name:     "delete noreply",
			req:      NewDeleteRequest("foo").WithNoReply(),
			expected: "delete foo noreply\r\n",
		},
		{
			name:     "touch",
			req:      NewTouchRequest("foo", 30*time.Second),
			expected: "touch foo 30\r\n",
		},
		{
			name:     "touch noreply",
			req:      NewTouchRequest("foo", 0).WithNoReply(),
			expected: "touch foo 0 noreply\r\n",
		},
		{
			name:     "incr",
			req:      NewArithmeticRequest(CmdIncr, "counter", 5),
			expected: "incr counter 5\r\n",
		},
		{
			name:     "decr ignores noreply",
			req:      NewArithmeticRequest(CmdDecr, "counter", 18446744073709551615).WithNoReply(),
			expected: "decr counter 18446744073709551615\r\n",
		},
		{
			name:     "version",
			req:      NewVersionRequest(),
			expected: "version\r\n",
		},
		{
			name:     "flush_all",
			req:      NewFlushAllRequest(0),
			expected: "flush_all\r\n",
		},
		{
			name:     "flush_all with delay",
			req:      NewFlushAllRequest(10 * time.Second),
			expected: "flush_all 10\r\n",
		},
		{
			name:     "stats",
			req:      NewStatsRequest(""),
			expected: "stats\r\n",
		},
		{
			name:     "stats group",
			req:      NewStatsRequest("slabs"),
			expected: "stats slabs\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertEncoding(t, tt.req, tt.expected)
		})
	}
}

func assertEncoding(t *testing.T, req *Request, expected string) {
	t.Helper()

	if got := string(AppendRequest(nil, req)); got != expected {
		t.Errorf("AppendRequest() = %q, want %q", got, expected)
	}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}
	if got := buf.String(); got != expected {
		t.Errorf("WriteRequest() = %q, want %q", got, expected)
	}

	buf.Reset()
	bw := bufio.NewWriterSize(&buf, 16)
	if err := WriteRequest(bw, req); err != nil {
		t.Fatalf("WriteRequest(bufio) failed: %v", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := buf.String(); got != expected {
		t.Errorf("WriteRequest(bufio) = %q, want %q", got, expected)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("boom") }

func TestWriteRequestError(t *testing.T) {
	req := NewStorageRequest(CmdSet, "foo", []byte("bar"), 0, 0)

	if err := WriteRequest(failingWriter{}, req); err == nil {
		t.Error("expected error from unbuffered writer")
	}

	// Small buffer forces a write to the underlying writer
	bw := bufio.NewWriterSize(failingWriter{}, 16)
	big := NewStorageRequest(CmdSet, "foo", bytes.Repeat([]byte("x"), 100), 0, 0)
	if err := WriteRequest(bw, big); err == nil {
		t.Error("expected error from buffered writer")
	}
}

func TestRequestExpectsReply(t *testing.T) {
	if !NewDeleteRequest("foo").ExpectsReply() {
		t.Error("delete should expect a reply")
	}
	if NewDeleteRequest("foo").WithNoReply().ExpectsReply() {
		t.Error("delete noreply should not expect a reply")
	}
	if !NewArithmeticRequest(CmdIncr, "foo", 1).WithNoReply().ExpectsReply() {
		t.Error("incr never sends noreply, it should expect a reply")
	}
}
