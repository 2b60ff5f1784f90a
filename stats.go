package vmemcached

import (
	"sync/atomic"
	"time"

	"github.com/pior/vmemcached/ascii"
)

// PoolStats contains statistics about a connection pool.
//
// For Prometheus integration see NewCollector, which exposes:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Counter: AcquireWaitTimeNs, as seconds
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// AverageWaitTime is the mean time an acquire that had to wait waited.
func (s PoolStats) AverageWaitTime() time.Duration {
	if s.AcquireWaitCount == 0 {
		return 0
	}
	return time.Duration(s.AcquireWaitTimeNs / s.AcquireWaitCount)
}

// ClientStats contains statistics about client operations.
type ClientStats struct {
	Gets       uint64 // Keys looked up, by Get and GetMulti
	GetHits    uint64 // Keys found
	Sets       uint64 // set, add, replace, append, prepend and cas
	Deletes    uint64
	Touches    uint64
	Increments uint64 // incr and decr
	Others     uint64 // version, flush_all, stats
	Errors     uint64 // Operations failed with an error other than a miss or a failed condition
}

// HitRatio is GetHits over Gets, zero before the first get.
func (s ClientStats) HitRatio() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.GetHits) / float64(s.Gets)
}

// poolStatsCollector provides internal methods for updating pool stats.
// Not exported - pools update their own stats.
type poolStatsCollector struct {
	stats PoolStats
}

func newPoolStatsCollector() *poolStatsCollector {
	return &poolStatsCollector{}
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordActivate() {
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordDeactivate() {
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

// recordCloseIdle accounts for an idle connection closed with the pool.
func (c *poolStatsCollector) recordCloseIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	c.recordDestroy()
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        atomic.LoadInt32(&c.stats.TotalConns),
		IdleConns:         atomic.LoadInt32(&c.stats.IdleConns),
		ActiveConns:       atomic.LoadInt32(&c.stats.ActiveConns),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
// Not exported - client updates its own stats.
type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordGets(keys, hits int) {
	atomic.AddUint64(&c.stats.Gets, uint64(keys))
	atomic.AddUint64(&c.stats.GetHits, uint64(hits))
}

// recordCommand counts a non-retrieval command by family.
func (c *clientStatsCollector) recordCommand(cmd ascii.Command) {
	switch {
	case cmd.IsStorage():
		atomic.AddUint64(&c.stats.Sets, 1)
	case cmd == ascii.CmdDelete:
		atomic.AddUint64(&c.stats.Deletes, 1)
	case cmd == ascii.CmdTouch:
		atomic.AddUint64(&c.stats.Touches, 1)
	case cmd == ascii.CmdIncr, cmd == ascii.CmdDecr:
		atomic.AddUint64(&c.stats.Increments, 1)
	case cmd.IsRetrieval():
	default:
		atomic.AddUint64(&c.stats.Others, 1)
	}
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       atomic.LoadUint64(&c.stats.Gets),
		GetHits:    atomic.LoadUint64(&c.stats.GetHits),
		Sets:       atomic.LoadUint64(&c.stats.Sets),
		Deletes:    atomic.LoadUint64(&c.stats.Deletes),
		Touches:    atomic.LoadUint64(&c.stats.Touches),
		Increments: atomic.LoadUint64(&c.stats.Increments),
		Others:     atomic.LoadUint64(&c.stats.Others),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
	}
}
