package vmemcached

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/pior/vmemcached/ascii"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreakerConfig(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Second)("memcache://localhost:11211")
	require.NotNil(t, cb)

	assert.Equal(t, "memcache://localhost:11211", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Second)("test")

	result, err := cb.Execute(func() (*ascii.Response, error) {
		return &ascii.Response{Kind: ascii.KindStatus, Status: ascii.StatusStored}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, ascii.StatusStored, result.Status)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_TripsOnConnectionFailures(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	fail := func() (*ascii.Response, error) {
		return nil, ioError("get", io.ErrUnexpectedEOF)
	}

	for range 2 {
		_, err := cb.Execute(fail)
		require.Error(t, err)
		assert.Equal(t, gobreaker.StateClosed, cb.State())
	}

	_, err := cb.Execute(fail)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err = cb.Execute(func() (*ascii.Response, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestCircuitBreaker_IgnoresCommandOutcomes(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	errs := []error{
		serverError("set", &ascii.Response{Kind: ascii.KindError, ErrorKind: ascii.ErrorServer, ErrorMessage: "out of memory"}),
		fmt.Errorf("lookup: %w", serverError("get", &ascii.Response{Kind: ascii.KindError, ErrorKind: ascii.ErrorClient})),
		context.Canceled,
		ioError("get", fmt.Errorf("%w: %w", context.Canceled, io.ErrUnexpectedEOF)),
	}

	for range 3 {
		for _, want := range errs {
			_, err := cb.Execute(func() (*ascii.Response, error) {
				return nil, want
			})
			require.ErrorIs(t, err, want)
		}
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}

func TestIsBreakerSuccess(t *testing.T) {
	assert.True(t, isBreakerSuccess(nil))
	assert.True(t, isBreakerSuccess(context.Canceled))
	assert.True(t, isBreakerSuccess(serverError("get", &ascii.Response{Kind: ascii.KindError, ErrorKind: ascii.ErrorNonexistentCommand})))
	assert.False(t, isBreakerSuccess(context.DeadlineExceeded))
	assert.True(t, isBreakerSuccess(&DriverError{Class: ClassCanceled, Op: "get", Err: context.DeadlineExceeded}))
	assert.False(t, isBreakerSuccess(framingError("get", ErrResponseTooLarge)))
	assert.False(t, isBreakerSuccess(ioError("dial", io.EOF)))
}

func TestCircuitBreakerState_String(t *testing.T) {
	tests := []struct {
		state    gobreaker.State
		expected string
	}{
		{gobreaker.StateClosed, "closed"},
		{gobreaker.StateHalfOpen, "half-open"},
		{gobreaker.StateOpen, "open"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}
