package vmemcached

import (
	"errors"
	"fmt"

	"github.com/pior/vmemcached/ascii"
)

var (
	// ErrCacheMiss means the key is not in the cache.
	ErrCacheMiss = errors.New("vmemcached: cache miss")

	// ErrNotStored means an add, replace, append or prepend condition was not met.
	ErrNotStored = errors.New("vmemcached: item not stored")

	// ErrCASConflict means the item was modified since it was fetched.
	ErrCASConflict = errors.New("vmemcached: compare-and-swap conflict")

	// ErrMalformedKey is returned for keys longer than 250 bytes or
	// containing whitespace or control characters.
	ErrMalformedKey = errors.New("vmemcached: key is too long or contains invalid characters")

	ErrClientClosed = errors.New("vmemcached: client closed")

	// ErrResponseTooLarge means the server sent more than Config.MaxResponseSize
	// bytes without completing a response.
	ErrResponseTooLarge = errors.New("vmemcached: response too large")

	ErrConnBroken = errors.New("vmemcached: connection broken")
)

// ErrorClass tells what went wrong with a command, and whether the
// connection it ran on can be reused.
type ErrorClass uint8

const (
	// ClassIO is a socket failure, including an unexpected EOF in the middle
	// of a response. The connection is evicted.
	ClassIO ErrorClass = iota + 1

	// ClassFraming is a reply that cannot be framed, or one that is not a
	// legal answer to the command. The connection is evicted.
	ClassFraming

	// ClassServer is an ERROR, CLIENT_ERROR or SERVER_ERROR line. The server
	// understood the stream and the connection stays healthy.
	ClassServer

	// ClassCanceled is a context done before the command was sent. Nothing
	// touched the stream and the connection stays healthy.
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassIO:
		return "io"
	case ClassFraming:
		return "framing"
	case ClassServer:
		return "server"
	case ClassCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ErrorClass(%d)", uint8(c))
	}
}

// DriverError is the error returned for a failed command.
type DriverError struct {
	Class ErrorClass

	// Kind is set for ClassServer errors, and to ascii.ErrorProtocol for a
	// reply of the wrong shape.
	Kind ascii.ErrorKind

	// Op is the command or step that failed: "get", "set", "dial", "auth", ...
	Op string

	// Message is the text sent by the server, if any.
	Message string

	Err error
}

func (e *DriverError) Error() string {
	msg := "vmemcached: " + e.Op + ": " + e.Class.String()
	if e.Kind != 0 {
		msg += " (" + e.Kind.String() + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// ShouldEvict reports whether the connection that produced the error must
// be closed instead of going back to the pool.
func (e *DriverError) ShouldEvict() bool {
	return e.Class != ClassServer && e.Class != ClassCanceled
}

// IsServerError reports whether the error was reported by the server.
func (e *DriverError) IsServerError() bool {
	return e.Class == ClassServer
}

// ShouldEvict reports whether err leaves a connection in an unknown state.
// Errors not produced by this package are assumed to.
func ShouldEvict(err error) bool {
	if err == nil {
		return false
	}
	var de *DriverError
	if errors.As(err, &de) {
		return de.ShouldEvict()
	}
	return true
}

// IsServerError reports whether err is an error line sent by the server.
func IsServerError(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.IsServerError()
}

func ioError(op string, err error) *DriverError {
	return &DriverError{Class: ClassIO, Op: op, Err: err}
}

func framingError(op string, err error) *DriverError {
	return &DriverError{Class: ClassFraming, Kind: ascii.ErrorProtocol, Op: op, Err: err}
}

func serverError(op string, resp *ascii.Response) *DriverError {
	return &DriverError{Class: ClassServer, Kind: resp.ErrorKind, Op: op, Message: resp.ErrorMessage}
}
