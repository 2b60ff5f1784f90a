// Package coarsetime is a cheap clock for pool bookkeeping (idle and
// lifetime accounting) where 50ms of precision is plenty.
package coarsetime

import (
	"sync/atomic"
	"time"
)

// Resolution is the refresh interval of the clock.
const Resolution = 50 * time.Millisecond

var now atomic.Pointer[time.Time]

func init() {
	t := time.Now()
	now.Store(&t)

	ticker := time.NewTicker(Resolution)
	go func() {
		for t := range ticker.C {
			now.Store(&t)
		}
	}()
}

// Now returns the current time, at most Resolution old.
func Now() time.Time {
	return *now.Load()
}

// Since is time.Since on the coarse clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
