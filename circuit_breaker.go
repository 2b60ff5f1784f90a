package vmemcached

import (
	"context"
	"errors"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for servers.
// This is a helper for common use cases, set it as Config.NewCircuitBreaker.
//
// The breaker trips when at least 60% of 3 or more requests in the interval
// failed. Only connection-level failures count: server error lines, cache
// misses and failed conditions are successes from the breaker's point of view.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[*ascii.Response] {
	return func(target string) *gobreaker.CircuitBreaker[*ascii.Response] {
		settings := gobreaker.Settings{
			Name:        target,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: isBreakerSuccess,
		}
		return gobreaker.NewCircuitBreaker[*ascii.Response](settings)
	}
}

// isBreakerSuccess tells whether an error says something about the health
// of the server.
func isBreakerSuccess(err error) bool {
	if err == nil || IsServerError(err) || errors.Is(err, context.Canceled) {
		return true
	}
	var de *DriverError
	return errors.As(err, &de) && de.Class == ClassCanceled
}
