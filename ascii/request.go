package ascii

import "time"

// Request is a text protocol command with its arguments.
// This is a plain data container, serialization lives in WriteRequest.
//
// Keys are not validated here: callers must reject keys longer than
// MaxKeyLength or containing whitespace or control characters.
type Request struct {
	// Command is the command name: set, get, delete, ...
	Command Command

	// Keys holds one key for keyed commands, one or more for get/gets,
	// and none for version, flush_all and stats.
	Keys []string

	// Data is the value to store (storage commands only).
	// The <bytes> field is derived from len(Data).
	Data []byte

	// Flags is the opaque client flags word stored with the item.
	Flags uint32

	// TTL is sent as the <exptime> field of storage and touch commands,
	// truncated to whole seconds. Zero means no expiration.
	TTL time.Duration

	// CAS is the cas unique of a cas command.
	CAS uint64

	// Delta is the amount of incr/decr.
	Delta uint64

	// Delay postpones flush_all, truncated to whole seconds.
	Delay time.Duration

	// Group selects a stats group ("slabs", "items", ...). Empty for general stats.
	Group string

	// NoReply asks the server not to answer. Only honoured by storage,
	// delete and touch commands, see Command.SupportsNoReply.
	NoReply bool
}

// Key returns the first key of the request, or "" if it has none.
func (r *Request) Key() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0]
}

// ExpectsReply reports whether the server will answer this request.
func (r *Request) ExpectsReply() bool {
	return !(r.NoReply && r.Command.SupportsNoReply())
}

// NewStorageRequest creates a set, add, replace, append or prepend request.
//
// Usage:
//
//	req := NewStorageRequest(CmdSet, "mykey", []byte("value"), 0, time.Hour)
func NewStorageRequest(cmd Command, key string, data []byte, flags uint32, ttl time.Duration) *Request {
	return &Request{
		Command: cmd,
		Keys:    []string{key},
		Data:    data,
		Flags:   flags,
		TTL:     ttl,
	}
}

// NewCASRequest creates a cas request: store only if the item's cas unique
// still equals cas.
func NewCASRequest(key string, data []byte, flags uint32, ttl time.Duration, cas uint64) *Request {
	req := NewStorageRequest(CmdCAS, key, data, flags, ttl)
	req.CAS = cas
	return req
}

// NewRetrievalRequest creates a get or gets request for one or more keys.
func NewRetrievalRequest(cmd Command, keys ...string) *Request {
	return &Request{Command: cmd, Keys: keys}
}

func NewDeleteRequest(key string) *Request {
	return &Request{Command: CmdDelete, Keys: []string{key}}
}

func NewTouchRequest(key string, ttl time.Duration) *Request {
	return &Request{Command: CmdTouch, Keys: []string{key}, TTL: ttl}
}

// NewArithmeticRequest creates an incr or decr request.
func NewArithmeticRequest(cmd Command, key string, delta uint64) *Request {
	return &Request{Command: cmd, Keys: []string{key}, Delta: delta}
}

func NewVersionRequest() *Request {
	return &Request{Command: CmdVersion}
}

func NewFlushAllRequest(delay time.Duration) *Request {
	return &Request{Command: CmdFlushAll, Delay: delay}
}

func NewStatsRequest(group string) *Request {
	return &Request{Command: CmdStats, Group: group}
}

// NewAuthRequest creates the "set auth <user> <pass>" request understood
// by memcached's ascii authentication (-Y) and compatible proxies.
func NewAuthRequest(username, password string) *Request {
	return NewStorageRequest(CmdSet, "auth", []byte(username+" "+password), 0, 0)
}

// WithNoReply marks the request as noreply and returns it for chaining.
func (r *Request) WithNoReply() *Request {
	r.NoReply = true
	return r
}
