//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package vmemcached

import (
	"crypto/tls"
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeConn peeks at the socket with a non-blocking MSG_PEEK recv. Nothing
// is consumed: the bytes stay in the kernel buffer for the next Read.
func probeConn(c *Connection) connState {
	var raw net.Conn = c.conn
	tc, isTLS := raw.(*tls.Conn)
	if isTLS {
		raw = tc.NetConn()
	}

	sc, ok := raw.(syscall.Conn)
	if !ok {
		return c.probeWithDeadline()
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return connClosed
	}

	state := connIdle
	var b [1]byte
	err = rc.Read(func(fd uintptr) bool {
		n, _, err := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			state = connIdle
		case err != nil:
			state = connClosed
		case n == 0:
			// orderly shutdown by the peer
			state = connClosed
		default:
			state = connReadable
		}
		return true
	})
	if err != nil {
		return connClosed
	}
	// Pending TLS records (session tickets) are not application data.
	if isTLS && state == connReadable {
		return connIdle
	}
	return state
}
