package vmemcached

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Collector exposes the statistics of a Client as Prometheus metrics.
// Values are read from the client on every scrape.
type Collector struct {
	client *Client

	operations     *prometheus.Desc
	getKeys        *prometheus.Desc
	getHits        *prometheus.Desc
	errors         *prometheus.Desc
	connections    *prometheus.Desc
	acquires       *prometheus.Desc
	acquireWaits   *prometheus.Desc
	acquireWaitSec *prometheus.Desc
	acquireErrors  *prometheus.Desc
	created        *prometheus.Desc
	destroyed      *prometheus.Desc
	breakerState   *prometheus.Desc
	breakerFails   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for client. Register it with
// prometheus.MustRegister or a custom registry.
func NewCollector(client *Client) *Collector {
	labels := prometheus.Labels{"target": client.pool.Target()}

	desc := func(name, help string, variableLabels ...string) *prometheus.Desc {
		return prometheus.NewDesc("vmemcached_"+name, help, variableLabels, labels)
	}

	return &Collector{
		client:         client,
		operations:     desc("operations_total", "Commands other than get and gets, by command family.", "family"),
		getKeys:        desc("get_keys_total", "Keys looked up by get and gets."),
		getHits:        desc("get_hits_total", "Keys found by get and gets."),
		errors:         desc("errors_total", "Commands failed with an I/O, framing or server error."),
		connections:    desc("pool_connections", "Connections in the pool, by state.", "state"),
		acquires:       desc("pool_acquires_total", "Connection acquire attempts."),
		acquireWaits:   desc("pool_acquire_waits_total", "Acquires that waited for a connection."),
		acquireWaitSec: desc("pool_acquire_wait_seconds_total", "Time spent waiting for a connection."),
		acquireErrors:  desc("pool_acquire_errors_total", "Failed acquire attempts."),
		created:        desc("pool_connections_created_total", "Connections created."),
		destroyed:      desc("pool_connections_destroyed_total", "Connections destroyed."),
		breakerState:   desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)."),
		breakerFails:   desc("circuit_breaker_consecutive_failures", "Consecutive failures seen by the circuit breaker."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.getKeys
	ch <- c.getHits
	ch <- c.errors
	ch <- c.connections
	ch <- c.acquires
	ch <- c.acquireWaits
	ch <- c.acquireWaitSec
	ch <- c.acquireErrors
	ch <- c.created
	ch <- c.destroyed
	ch <- c.breakerState
	ch <- c.breakerFails
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, value, labels...)
	}
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}

	stats := c.client.Stats()
	counter(c.operations, float64(stats.Sets), "storage")
	counter(c.operations, float64(stats.Deletes), "delete")
	counter(c.operations, float64(stats.Touches), "touch")
	counter(c.operations, float64(stats.Increments), "arithmetic")
	counter(c.operations, float64(stats.Others), "other")
	counter(c.getKeys, float64(stats.Gets))
	counter(c.getHits, float64(stats.GetHits))
	counter(c.errors, float64(stats.Errors))

	ps := c.client.PoolStats()
	pool := ps.PoolStats
	gauge(c.connections, float64(pool.ActiveConns), "active")
	gauge(c.connections, float64(pool.IdleConns), "idle")
	counter(c.acquires, float64(pool.AcquireCount))
	counter(c.acquireWaits, float64(pool.AcquireWaitCount))
	counter(c.acquireWaitSec, float64(pool.AcquireWaitTimeNs)/1e9)
	counter(c.acquireErrors, float64(pool.AcquireErrors))
	counter(c.created, float64(pool.CreatedConns))
	counter(c.destroyed, float64(pool.DestroyedConns))

	gauge(c.breakerState, breakerStateValue(ps.CircuitBreakerState))
	gauge(c.breakerFails, float64(ps.CircuitBreakerCounts.ConsecutiveFailures))
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
