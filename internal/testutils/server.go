package testutils

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// HangUp, returned by a Server hook, closes the connection without replying.
const HangUp = "\x00hangup"

// Server is an in-process memcached speaking the text protocol, enough of
// it to exercise a client: storage, retrieval, delete, touch, incr/decr,
// version, flush_all, stats and "set auth" authentication. Expiration
// times are accepted and ignored.
type Server struct {
	listener net.Listener

	mu       sync.Mutex
	hook     func(line string) (reply string, ok bool)
	username string
	password string
	version  string
	items    map[string]*serverItem
	cas      uint64
	conns    map[net.Conn]struct{}
	accepted int
	commands []string

	wg sync.WaitGroup
}

type serverItem struct {
	flags uint32
	data  []byte
	cas   uint64
}

// NewServer starts a server on a loopback port. It is closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}

	s := &Server{
		version:  "1.6.99-test",
		listener: ln,
		items:    make(map[string]*serverItem),
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	tb.Cleanup(s.Close)
	return s
}

// SetHook installs a function that sees every command line (data block
// excluded) before the server handles it. Returning ok=true sends reply
// verbatim instead.
func (s *Server) SetHook(hook func(line string) (reply string, ok bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// SetAuth requires new connections to "set auth <username> <password>"
// before any other command.
func (s *Server) SetAuth(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Commands returns the command lines received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// CloseConnections drops every client connection, the listener stays up.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	_ = s.listener.Close()
	s.CloseConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)

	s.mu.Lock()
	username, password := s.username, s.password
	s.mu.Unlock()
	authenticated := username == ""

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			if _, err := io.WriteString(conn, "ERROR\r\n"); err != nil {
				return
			}
			continue
		}

		var data []byte
		if isStorage(fields[0]) {
			if data, err = readDataBlock(r, fields); err != nil {
				if _, err := io.WriteString(conn, "CLIENT_ERROR bad data chunk\r\n"); err != nil {
					return
				}
				continue
			}
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		hook := s.hook
		s.mu.Unlock()

		var reply string
		hooked := false
		if hook != nil {
			reply, hooked = hook(line)
		}

		switch {
		case hooked:
		case !authenticated:
			if fields[0] == "set" && len(fields) > 1 && fields[1] == "auth" {
				if string(data) == username+" "+password {
					authenticated = true
					reply = "STORED\r\n"
				} else {
					reply = "CLIENT_ERROR authentication failure\r\n"
				}
			} else {
				reply = "CLIENT_ERROR unauthenticated\r\n"
			}
		default:
			reply = s.execute(fields, data)
		}

		if reply == HangUp {
			return
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func isStorage(cmd string) bool {
	switch cmd {
	case "set", "add", "replace", "append", "prepend", "cas":
		return true
	}
	return false
}

func readDataBlock(r *bufio.Reader, fields []string) ([]byte, error) {
	if len(fields) < 5 {
		return nil, fmt.Errorf("missing fields")
	}
	size, err := strconv.Atoi(fields[4])
	if err != nil || size < 0 {
		return nil, fmt.Errorf("bad size")
	}
	block := make([]byte, size+2)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, err
	}
	if block[size] != '\r' || block[size+1] != '\n' {
		return nil, fmt.Errorf("bad terminator")
	}
	return block[:size], nil
}

func (s *Server) execute(fields []string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := fields[0]
	noreply := fields[len(fields)-1] == "noreply"
	quiet := func(reply string) string {
		if noreply {
			return ""
		}
		return reply
	}

	switch cmd {
	case "set", "add", "replace", "append", "prepend", "cas":
		return quiet(s.store(cmd, fields, data))

	case "get", "gets":
		if len(fields) < 2 {
			return "ERROR\r\n"
		}
		var b strings.Builder
		for _, key := range fields[1:] {
			it, ok := s.items[key]
			if !ok {
				continue
			}
			if cmd == "gets" {
				fmt.Fprintf(&b, "VALUE %s %d %d %d\r\n", key, it.flags, len(it.data), it.cas)
			} else {
				fmt.Fprintf(&b, "VALUE %s %d %d\r\n", key, it.flags, len(it.data))
			}
			b.Write(it.data)
			b.WriteString("\r\n")
		}
		b.WriteString("END\r\n")
		return b.String()

	case "delete":
		if len(fields) < 2 {
			return "ERROR\r\n"
		}
		if _, ok := s.items[fields[1]]; !ok {
			return quiet("NOT_FOUND\r\n")
		}
		delete(s.items, fields[1])
		return quiet("DELETED\r\n")

	case "touch":
		if len(fields) < 3 {
			return "ERROR\r\n"
		}
		if _, ok := s.items[fields[1]]; !ok {
			return quiet("NOT_FOUND\r\n")
		}
		return quiet("TOUCHED\r\n")

	case "incr", "decr":
		if len(fields) < 3 {
			return "ERROR\r\n"
		}
		delta, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return "CLIENT_ERROR invalid numeric delta argument\r\n"
		}
		it, ok := s.items[fields[1]]
		if !ok {
			return "NOT_FOUND\r\n"
		}
		n, err := strconv.ParseUint(string(it.data), 10, 64)
		if err != nil {
			return "CLIENT_ERROR cannot increment or decrement non-numeric value\r\n"
		}
		if cmd == "incr" {
			n += delta
		} else if delta > n {
			n = 0
		} else {
			n -= delta
		}
		it.data = []byte(strconv.FormatUint(n, 10))
		s.cas++
		it.cas = s.cas
		return string(it.data) + "\r\n"

	case "version":
		return "VERSION " + s.version + "\r\n"

	case "flush_all":
		clear(s.items)
		return quiet("OK\r\n")

	case "stats":
		if len(fields) > 1 {
			return "END\r\n"
		}
		return fmt.Sprintf("STAT pid 1\r\nSTAT version %s\r\nSTAT curr_items %d\r\nSTAT libevent 2.1.12-stable\r\nEND\r\n",
			s.version, len(s.items))
	}

	return "ERROR\r\n"
}

func (s *Server) store(cmd string, fields []string, data []byte) string {
	key := fields[1]
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return "CLIENT_ERROR bad command line format\r\n"
	}

	it, exists := s.items[key]

	switch cmd {
	case "add":
		if exists {
			return "NOT_STORED\r\n"
		}
	case "replace":
		if !exists {
			return "NOT_STORED\r\n"
		}
	case "append", "prepend":
		if !exists {
			return "NOT_STORED\r\n"
		}
		if cmd == "append" {
			data = append(append([]byte(nil), it.data...), data...)
		} else {
			data = append(append([]byte(nil), data...), it.data...)
		}
		flags = uint64(it.flags)
	case "cas":
		if len(fields) < 6 {
			return "ERROR\r\n"
		}
		unique, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return "CLIENT_ERROR bad command line format\r\n"
		}
		if !exists {
			return "NOT_FOUND\r\n"
		}
		if it.cas != unique {
			return "EXISTS\r\n"
		}
	}

	s.cas++
	s.items[key] = &serverItem{flags: uint32(flags), data: append([]byte(nil), data...), cas: s.cas}
	return "STORED\r\n"
}
