package vmemcached

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/pior/vmemcached/codec"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultMaxSize         = 10
	DefaultDialTimeout     = 5 * time.Second
	DefaultReadBufferSize  = 1024
	DefaultMaxResponseSize = 32 << 20
	DefaultAcquireRetries  = 3
)

// PoolFactory creates the connection pool of a server.
type PoolFactory func(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error)

// Config holds the configuration of a Client and its connection pool.
// The zero value is usable.
type Config struct {
	// MaxSize is the maximum number of connections in the pool.
	// Default: 10.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often to check idle connections for health.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is the net.Dialer used to create new connections. Its Resolver
	// is used for DNS. If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// DialTimeout bounds connecting, the TLS handshake and authentication.
	// Default: 5s.
	DialTimeout time.Duration

	// TLSConfig is used for memcache+tls:// targets. If nil, a default
	// config verifying the target host is used.
	TLSConfig *tls.Config

	// Pool is the connection pool factory function.
	// If nil, NewPuddlePool is used. NewChannelPool is the alternative.
	Pool PoolFactory

	// NewCircuitBreaker creates the circuit breaker of a server, see
	// NewCircuitBreakerConfig. If nil, no circuit breaker is used.
	NewCircuitBreaker func(target string) *gobreaker.CircuitBreaker[*ascii.Response]

	// ReadBufferSize is the initial size of the buffer a response is read
	// into. It grows as needed. Default: 1024.
	ReadBufferSize int

	// MaxResponseSize caps the buffer a single response is assembled in.
	// Default: 32MiB.
	MaxResponseSize int

	// ValidateWithVersion sends a version command to every connection
	// before leasing it, on top of the passive liveness probe.
	ValidateWithVersion bool

	// AcquireRetries is how many times a connection failing validation is
	// replaced before giving up. Default: 3. A negative value disables
	// retries.
	AcquireRetries int

	// Codec serializes values for GetValue and SetValue.
	// Default: codec.JSON.
	Codec codec.Codec

	// Logger receives connection lifecycle events. Default: slog.Default().
	Logger *slog.Logger

	// for testing purposes only
	constructor func(ctx context.Context) (*Connection, error)
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Pool == nil {
		c.Pool = NewPuddlePool
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = DefaultMaxResponseSize
	}
	if c.MaxResponseSize < c.ReadBufferSize {
		c.MaxResponseSize = c.ReadBufferSize
	}
	if c.AcquireRetries == 0 {
		c.AcquireRetries = DefaultAcquireRetries
	}
	if c.Codec == nil {
		c.Codec = codec.JSON
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
