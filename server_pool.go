package vmemcached

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/sony/gobreaker/v2"
)

// ServerPool wraps the connection pool, the connection manager and the
// circuit breaker of one server.
type ServerPool struct {
	target         string
	manager        *Manager
	driver         *Driver
	pool           Pool
	circuitBreaker *gobreaker.CircuitBreaker[*ascii.Response]

	acquireRetries  int
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
	logger          *slog.Logger

	stopHealthCheck chan struct{}
	closeOnce       sync.Once
	wg              sync.WaitGroup
}

func NewServerPool(target string, config Config) (*ServerPool, error) {
	config = config.withDefaults()

	manager, err := NewManager(target, config)
	if err != nil {
		return nil, err
	}

	constructor := config.constructor
	if constructor == nil {
		constructor = manager.Create
	}

	pool, err := config.Pool(constructor, config.MaxSize)
	if err != nil {
		return nil, err
	}

	sp := &ServerPool{
		target:          manager.Target().String(),
		manager:         manager,
		driver:          NewDriver(config),
		pool:            pool,
		acquireRetries:  max(config.AcquireRetries, 0),
		maxConnLifetime: config.MaxConnLifetime,
		maxConnIdleTime: config.MaxConnIdleTime,
		logger:          config.Logger.With("target", manager.Target().String()),
		stopHealthCheck: make(chan struct{}),
	}
	if config.NewCircuitBreaker != nil {
		sp.circuitBreaker = config.NewCircuitBreaker(sp.target)
	}

	if config.HealthCheckInterval > 0 {
		sp.wg.Add(1)
		go sp.healthCheckLoop(config.HealthCheckInterval)
	}

	return sp, nil
}

// Target returns the server target, without password.
func (sp *ServerPool) Target() string {
	return sp.target
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Target               string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	stats := ServerPoolStats{
		Target:    sp.target,
		PoolStats: sp.pool.Stats(),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Execute runs one command on a leased connection.
// The connection is released afterwards, or destroyed if the command left
// it broken. The request is wrapped with the server's circuit breaker.
func (sp *ServerPool) Execute(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	if sp.circuitBreaker == nil {
		return sp.execRequestDirect(ctx, req)
	}

	return sp.circuitBreaker.Execute(func() (*ascii.Response, error) {
		return sp.execRequestDirect(ctx, req)
	})
}

// execRequestDirect performs the actual request execution without circuit breaker.
func (sp *ServerPool) execRequestDirect(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	resource, err := sp.acquire(ctx)
	if err != nil {
		return nil, err
	}

	conn := resource.Value()

	resp, err := sp.driver.Do(ctx, conn, req)
	if sp.manager.HasBroken(conn) {
		sp.logger.Warn("vmemcached: evicting connection", "op", req.Command, "error", err)
		resource.Destroy()
	} else {
		resource.Release()
	}
	return resp, err
}

// acquire leases a connection that passes validation. Connections failing
// it are destroyed and replaced, up to acquireRetries times.
func (sp *ServerPool) acquire(ctx context.Context) (Resource, error) {
	var lastErr error

	for range sp.acquireRetries + 1 {
		resource, err := sp.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		err = sp.manager.Validate(ctx, resource.Value())
		if err == nil {
			return resource, nil
		}

		sp.logger.Debug("vmemcached: connection failed validation", "error", err)
		resource.Destroy()
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, ioError("acquire", errors.Join(ErrConnBroken, lastErr))
}

// Close stops the health check and destroys all connections.
func (sp *ServerPool) Close() {
	sp.closeOnce.Do(func() {
		close(sp.stopHealthCheck)
		sp.wg.Wait()
		sp.pool.Close()
	})
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (sp *ServerPool) healthCheckLoop(interval time.Duration) {
	defer sp.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sp.stopHealthCheck:
			return
		case <-ticker.C:
			sp.checkIdleConnections(interval)
		}
	}
}

// checkIdleConnections destroys idle connections that are too old, idle for
// too long or failing validation.
func (sp *ServerPool) checkIdleConnections(timeout time.Duration) {
	now := time.Now()

	for _, res := range sp.pool.AcquireAllIdle() {
		if sp.maxConnLifetime > 0 && now.Sub(res.CreationTime()) > sp.maxConnLifetime {
			sp.logger.Debug("vmemcached: closing connection past its lifetime")
			res.Destroy()
			continue
		}

		if sp.maxConnIdleTime > 0 && res.IdleDuration() > sp.maxConnIdleTime {
			sp.logger.Debug("vmemcached: closing idle connection")
			res.Destroy()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := sp.manager.Validate(ctx, res.Value())
		cancel()
		if err != nil {
			sp.logger.Warn("vmemcached: closing unhealthy connection", "error", err)
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}
