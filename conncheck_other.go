//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package vmemcached

func probeConn(c *Connection) connState {
	return c.probeWithDeadline()
}
