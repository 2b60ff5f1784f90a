package ascii

import (
	"bufio"
	"io"
	"strconv"
	"sync"
	"time"
)

// Buffer pool for building requests
var bufferPool = sync.Pool{
	New: func() any {
		// Typical command line is well under 300 bytes (250 byte key max)
		b := make([]byte, 0, 512)
		return &b
	},
}

// Buffers grown past this size by a large value are not kept.
const maxPooledBuffer = 64 * 1024

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	if cap(*b) > maxPooledBuffer {
		return
	}
	*b = (*b)[:0]
	bufferPool.Put(b)
}

// WriteRequest serializes req to wire format and writes it to w.
//
// Storage:   <cmd> <key> <flags> <exptime> <bytes>[ <cas>][ noreply]\r\n<data>\r\n
// Retrieval: <cmd>( <key>)+\r\n
// Others:    see the Cmd* constants.
//
// When w is a *bufio.Writer the request is written straight into its
// buffer and not flushed: the caller decides when to flush.
func WriteRequest(w io.Writer, req *Request) error {
	if bw, ok := w.(*bufio.Writer); ok {
		return writeRequestBuffered(bw, req)
	}

	buf := getBuffer()
	defer putBuffer(buf)

	*buf = AppendCommandLine(*buf, req)
	if _, err := w.Write(*buf); err != nil {
		return err
	}

	if req.Command.IsStorage() {
		if len(req.Data) > 0 {
			if _, err := w.Write(req.Data); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, CRLF); err != nil {
			return err
		}
	}
	return nil
}

func writeRequestBuffered(bw *bufio.Writer, req *Request) error {
	buf := getBuffer()
	defer putBuffer(buf)

	*buf = AppendCommandLine(*buf, req)
	bw.Write(*buf)

	if req.Command.IsStorage() {
		// Large values bypass the bufio buffer
		bw.Write(req.Data)
		bw.WriteString(CRLF)
	}

	// bufio.Writer keeps the first error, it is reported here and by Flush
	_, err := bw.Write(nil)
	return err
}

// AppendRequest appends the complete wire encoding of req to dst,
// including the data block of storage commands.
func AppendRequest(dst []byte, req *Request) []byte {
	dst = AppendCommandLine(dst, req)
	if req.Command.IsStorage() {
		dst = append(dst, req.Data...)
		dst = append(dst, CRLF...)
	}
	return dst
}

// AppendCommandLine appends the command line of req, terminator included,
// without the data block.
func AppendCommandLine(dst []byte, req *Request) []byte {
	dst = append(dst, req.Command...)

	switch {
	case req.Command.IsStorage():
		dst = append(dst, ' ')
		dst = append(dst, req.Key()...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(req.Flags), 10)
		dst = append(dst, ' ')
		dst = appendSeconds(dst, req.TTL)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(req.Data)), 10)
		if req.Command == CmdCAS {
			dst = append(dst, ' ')
			dst = strconv.AppendUint(dst, req.CAS, 10)
		}

	case req.Command.IsRetrieval():
		for _, key := range req.Keys {
			dst = append(dst, ' ')
			dst = append(dst, key...)
		}

	case req.Command == CmdDelete:
		dst = append(dst, ' ')
		dst = append(dst, req.Key()...)

	case req.Command == CmdTouch:
		dst = append(dst, ' ')
		dst = append(dst, req.Key()...)
		dst = append(dst, ' ')
		dst = appendSeconds(dst, req.TTL)

	case req.Command == CmdIncr, req.Command == CmdDecr:
		dst = append(dst, ' ')
		dst = append(dst, req.Key()...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, req.Delta, 10)

	case req.Command == CmdFlushAll:
		if req.Delay >= time.Second {
			dst = append(dst, ' ')
			dst = appendSeconds(dst, req.Delay)
		}

	case req.Command == CmdStats:
		if req.Group != "" {
			dst = append(dst, ' ')
			dst = append(dst, req.Group...)
		}
	}

	if req.NoReply && req.Command.SupportsNoReply() {
		dst = append(dst, ' ')
		dst = append(dst, WordNoReply...)
	}

	return append(dst, CRLF...)
}

// appendSeconds renders d as a non-negative whole number of seconds.
func appendSeconds(dst []byte, d time.Duration) []byte {
	if d < 0 {
		d = 0
	}
	return strconv.AppendUint(dst, uint64(d/time.Second), 10)
}
