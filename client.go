package vmemcached

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/pior/vmemcached/codec"
)

// NoTTL represents an infinite TTL (no expiration).
const NoTTL = 0

// Item is a cache entry.
type Item struct {
	Key   string
	Value []byte

	// Flags is an opaque word stored with the value.
	Flags uint32

	// TTL is the expiration, in whole seconds. Durations over 30 days are
	// taken by memcached as an absolute unix timestamp. Zero means no
	// expiration.
	TTL time.Duration

	// CAS is the cas unique returned by GetMulti, and the one sent by
	// CompareAndSwap.
	CAS uint64

	// NoReply skips waiting for the server's answer on storage commands.
	// Failures are then not reported.
	NoReply bool
}

type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	GetMulti(ctx context.Context, keys []string) (map[string]Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) error
	Replace(ctx context.Context, item Item) error
	Append(ctx context.Context, item Item) error
	Prepend(ctx context.Context, item Item) error
	CompareAndSwap(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
	Touch(ctx context.Context, key string, ttl time.Duration) error
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Decrement(ctx context.Context, key string, delta uint64) (uint64, error)
}

// Client is a memcached client over the text protocol, for one server.
// It is safe for concurrent use.
type Client struct {
	pool   *ServerPool
	codec  codec.Codec
	logger *slog.Logger
	closed atomic.Bool

	stats *clientStatsCollector
}

var _ Querier = (*Client)(nil)

// NewClient creates a client for target, see ParseTarget for the accepted
// forms. No connection is made until the first command.
func NewClient(target string, config Config) (*Client, error) {
	config = config.withDefaults()

	pool, err := NewServerPool(target, config)
	if err != nil {
		return nil, err
	}

	return &Client{
		pool:   pool,
		codec:  config.Codec,
		logger: config.Logger,
		stats:  newClientStatsCollector(),
	}, nil
}

// Close closes the client and destroys all connections.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.pool.Close()
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns the connection pool and circuit breaker statistics.
func (c *Client) PoolStats() ServerPoolStats {
	return c.pool.Stats()
}

// Get returns the item stored at key, or ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	if !legalKey(key) {
		return Item{}, ErrMalformedKey
	}

	resp, err := c.do(ctx, ascii.NewRetrievalRequest(ascii.CmdGet, key))
	if err != nil {
		return Item{}, err
	}

	var (
		item  Item
		found bool
	)
	for _, v := range resp.Values {
		if v.Key == key {
			item, found = itemFromValue(v), true
		}
	}

	if !found {
		c.stats.recordGets(1, 0)
		return Item{}, ErrCacheMiss
	}
	c.stats.recordGets(1, 1)
	return item, nil
}

// GetMulti fetches several keys in one gets round trip. Missing keys are
// absent from the map. Items carry their cas unique.
//
// If the server returns a key more than once, the last record wins.
func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	for _, key := range keys {
		if !legalKey(key) {
			return nil, ErrMalformedKey
		}
	}
	if len(keys) == 0 {
		return map[string]Item{}, nil
	}

	resp, err := c.do(ctx, ascii.NewRetrievalRequest(ascii.CmdGets, keys...))
	if err != nil {
		return nil, err
	}

	items := make(map[string]Item, len(resp.Values))
	for _, v := range resp.Values {
		items[v.Key] = itemFromValue(v)
	}

	c.stats.recordGets(len(keys), len(items))
	return items, nil
}

// Set stores the item unconditionally.
func (c *Client) Set(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdSet, item)
}

// Add stores the item only if the key does not exist yet, or returns ErrNotStored.
func (c *Client) Add(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdAdd, item)
}

// Replace stores the item only if the key exists, or returns ErrNotStored.
func (c *Client) Replace(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdReplace, item)
}

// Append adds the item's value after the existing value. Flags and TTL are
// ignored by the server. Returns ErrNotStored if the key does not exist.
func (c *Client) Append(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdAppend, item)
}

// Prepend adds the item's value before the existing value. Flags and TTL
// are ignored by the server. Returns ErrNotStored if the key does not exist.
func (c *Client) Prepend(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdPrepend, item)
}

// CompareAndSwap stores the item only if it was not modified since item.CAS
// was read. Returns ErrCASConflict if it was, ErrCacheMiss if the key is gone.
func (c *Client) CompareAndSwap(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdCAS, item)
}

func (c *Client) store(ctx context.Context, cmd ascii.Command, item Item) error {
	if !legalKey(item.Key) {
		return ErrMalformedKey
	}

	var req *ascii.Request
	if cmd == ascii.CmdCAS {
		req = ascii.NewCASRequest(item.Key, item.Value, item.Flags, item.TTL, item.CAS)
	} else {
		req = ascii.NewStorageRequest(cmd, item.Key, item.Value, item.Flags, item.TTL)
	}
	req.NoReply = item.NoReply

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	return statusError(resp.Status)
}

// Delete removes the key. Returns ErrCacheMiss if it did not exist.
func (c *Client) Delete(ctx context.Context, key string) error {
	if !legalKey(key) {
		return ErrMalformedKey
	}

	resp, err := c.do(ctx, ascii.NewDeleteRequest(key))
	if err != nil {
		return err
	}
	return statusError(resp.Status)
}

// Touch updates the expiration of the key. Returns ErrCacheMiss if it does not exist.
func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if !legalKey(key) {
		return ErrMalformedKey
	}

	resp, err := c.do(ctx, ascii.NewTouchRequest(key, ttl))
	if err != nil {
		return err
	}
	return statusError(resp.Status)
}

// Increment adds delta to the decimal counter stored at key and returns the
// new value. The counter wraps around at 2^64. Returns ErrCacheMiss if the
// key does not exist: unlike the meta protocol, the text protocol cannot
// create it.
func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, ascii.CmdIncr, key, delta)
}

// Decrement subtracts delta from the counter stored at key and returns the
// new value. The counter does not go below zero.
func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, ascii.CmdDecr, key, delta)
}

func (c *Client) arithmetic(ctx context.Context, cmd ascii.Command, key string, delta uint64) (uint64, error) {
	if !legalKey(key) {
		return 0, ErrMalformedKey
	}

	resp, err := c.do(ctx, ascii.NewArithmeticRequest(cmd, key, delta))
	if err != nil {
		return 0, err
	}
	if resp.Kind == ascii.KindStatus {
		return 0, statusError(resp.Status)
	}
	return resp.Number, nil
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, ascii.NewVersionRequest())
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// FlushAll invalidates all items, after delay if it is one second or more.
func (c *Client) FlushAll(ctx context.Context, delay time.Duration) error {
	_, err := c.do(ctx, ascii.NewFlushAllRequest(delay))
	return err
}

// ServerStats returns the server statistics of group, or the general
// statistics if group is empty.
func (c *Client) ServerStats(ctx context.Context, group string) (map[string]string, error) {
	resp, err := c.do(ctx, ascii.NewStatsRequest(group))
	if err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		return map[string]string{}, nil
	}
	return resp.Stats, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

func (c *Client) do(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	c.stats.recordCommand(req.Command)

	resp, err := c.pool.Execute(ctx, req)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	return resp, nil
}

// statusError maps the semantic outcome of a command to the facade's
// sentinel errors.
func statusError(s ascii.Status) error {
	switch s {
	case ascii.StatusStored, ascii.StatusDeleted, ascii.StatusTouched, ascii.StatusOK:
		return nil
	case ascii.StatusNotStored:
		return ErrNotStored
	case ascii.StatusExists:
		return ErrCASConflict
	case ascii.StatusNotFound:
		return ErrCacheMiss
	}
	return &DriverError{Class: ClassFraming, Kind: ascii.ErrorProtocol, Op: "status", Message: s.String()}
}

func itemFromValue(v ascii.Value) Item {
	return Item{
		Key:   v.Key,
		Value: v.Data,
		Flags: v.Flags,
		CAS:   v.CAS,
	}
}

// legalKey reports whether key can be sent on the text protocol:
// 1 to 250 bytes, no spaces or control characters.
func legalKey(key string) bool {
	if len(key) < ascii.MinKeyLength || len(key) > ascii.MaxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}
