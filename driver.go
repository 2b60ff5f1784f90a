package vmemcached

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/pior/vmemcached/internal/bufpool"
)

// A deadline in the past, to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Driver runs one command on one connection: encode, write, flush, then
// read and parse until a complete response is framed.
//
// The Driver never retries. Any I/O or framing failure marks the connection
// broken, the caller must then evict it.
type Driver struct {
	maxResponseSize int
	buffers         *bufpool.Pool
	logger          *slog.Logger
}

// NewDriver creates a Driver from the read buffer settings of config.
func NewDriver(config Config) *Driver {
	config = config.withDefaults()
	return &Driver{
		maxResponseSize: config.MaxResponseSize,
		buffers:         bufpool.New(config.ReadBufferSize, max(config.ReadBufferSize, 64*1024)),
		logger:          config.Logger,
	}
}

// Do sends req on conn and returns the response.
//
// The context deadline applies to the socket, cancelling ctx aborts
// blocked I/O. Both leave the connection broken.
//
// A reply that is not legal for the command fails with a ClassFraming
// error. A server error line fails with a ClassServer error and leaves the
// connection usable. Semantic outcomes (NOT_FOUND, NOT_STORED, EXISTS) are
// plain responses.
//
// A noreply request returns a synthesized status without reading.
func (d *Driver) Do(ctx context.Context, conn *Connection, req *ascii.Request) (*ascii.Response, error) {
	op := string(req.Command)

	if conn.IsBroken() {
		return nil, ioError(op, ErrConnBroken)
	}
	if err := ctx.Err(); err != nil {
		return nil, &DriverError{Class: ClassCanceled, Op: op, Err: err}
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, d.fail(ctx, conn, ioError(op, err))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})
	defer func() {
		// The callback may still be running: its deadline would hit the
		// next lease of this connection.
		if !stop() {
			conn.MarkBroken()
		}
	}()

	if err := conn.WriteRequest(req); err != nil {
		return nil, d.fail(ctx, conn, ioError(op, err))
	}
	if err := conn.Flush(); err != nil {
		return nil, d.fail(ctx, conn, ioError(op, err))
	}

	if !req.ExpectsReply() {
		return &ascii.Response{Kind: ascii.KindStatus, Status: req.Command.NoReplyStatus()}, nil
	}

	resp, err := d.readResponse(conn, op)
	if err != nil {
		return nil, d.fail(ctx, conn, err)
	}

	if !req.Command.Accepts(resp) {
		err := framingError(op, fmt.Errorf("unexpected %s reply: %s", resp.Kind, resp))
		return nil, d.fail(ctx, conn, err)
	}

	if resp.HasError() {
		return nil, serverError(op, resp)
	}

	return resp, nil
}

func (d *Driver) readResponse(conn *Connection, op string) (*ascii.Response, *DriverError) {
	buf := d.buffers.Get()
	defer d.buffers.Put(buf)

	data := *buf
	defer func() { *buf = data[:0] }()

	for {
		if len(data) >= d.maxResponseSize {
			return nil, framingError(op, ErrResponseTooLarge)
		}
		if len(data) == cap(data) {
			data = slices.Grow(data, min(cap(data), d.maxResponseSize-len(data)))
		}

		var (
			n   int
			err error
		)
		data, n, err = conn.ReadMore(data)

		if n > 0 {
			advance, resp, perr := ascii.Parse(data)
			if perr != nil {
				return nil, &DriverError{Class: ClassFraming, Kind: ascii.ErrorProtocol, Op: op, Err: perr}
			}
			if resp != nil {
				if advance < len(data) {
					d.logger.Warn("vmemcached: unexpected bytes after response",
						"op", op, "bytes", len(data)-advance, "remote", conn.RemoteAddr())
					conn.unread(data[advance:])
				}
				return resp, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, ioError(op, err)
		}
	}
}

// fail marks the connection broken, and reports a context error in place
// of the I/O error it caused.
func (d *Driver) fail(ctx context.Context, conn *Connection, err *DriverError) error {
	conn.MarkBroken()

	if err.Class == ClassIO {
		if ctxErr := contextError(ctx, err.Err); ctxErr != nil {
			err.Err = fmt.Errorf("%w: %w", ctxErr, err.Err)
		}
	}

	d.logger.Debug("vmemcached: command failed, connection broken",
		"op", err.Op, "class", err.Class.String(), "error", err.Err)
	return err
}

// contextError returns the context error behind an I/O error. The socket
// deadline can fire just before the context notices its own.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}
