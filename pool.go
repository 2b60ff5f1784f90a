package vmemcached

import (
	"context"
	"time"
)

// Pool is a bounded set of connections to one server.
type Pool interface {
	// Acquire returns an idle connection, creates one if the pool is not
	// full, or waits for one to be released.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle leases every idle connection, for health checks.
	AcquireAllIdle() []Resource

	Close()

	Stats() PoolStats
}

// Resource is a leased connection. Exactly one of Release, ReleaseUnused
// or Destroy must be called when done with it.
type Resource interface {
	Value() *Connection

	// Release returns the connection to the pool.
	Release()

	// ReleaseUnused returns the connection without refreshing its idle time.
	ReleaseUnused()

	// Destroy closes the connection and removes it from the pool.
	Destroy()

	CreationTime() time.Time
	IdleDuration() time.Duration
}
