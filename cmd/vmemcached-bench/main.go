package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pior/vmemcached"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	Increment    OperationType = "increment"
	Delete       OperationType = "delete"
	All          OperationType = "all"
)

var allOperations = []OperationType{CacheHit, DynamicValue, CacheMiss, Increment, Delete}

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Successes    int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Correctness  bool
	ErrorMessage string
}

// errIncorrect marks an operation that succeeded with a wrong result.
var errIncorrect = errors.New("incorrect result")

// opFunc runs one operation of a worker. The iteration counter is unique to
// the worker.
type opFunc func(ctx context.Context, worker, iteration int) error

func main() {
	var (
		operation   = flag.String("operation", "all", "Operation type: cache-hit, dynamic-value, cache-miss, increment, delete, or all")
		duration    = flag.Duration("duration", 5*time.Second, "Duration to run benchmarks")
		concurrency = flag.Int("concurrency", 1, "Number of concurrent workers")
		target      = flag.String("target", "localhost:11211", "memcached target")
		pool        = flag.String("pool", "puddle", "Connection pool: puddle or channel")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	)
	flag.Parse()

	fmt.Printf("Memcached Benchmark Tool\n")
	fmt.Printf("========================\n")
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Target: %s\n", *target)
	fmt.Printf("Pool: %s\n", *pool)
	fmt.Println()

	config := vmemcached.Config{
		MaxSize:         int32(max(*concurrency, 1)),
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	switch *pool {
	case "puddle":
		config.Pool = vmemcached.NewPuddlePool
	case "channel":
		config.Pool = vmemcached.NewChannelPool
	default:
		log.Fatalf("Unknown pool: %s", *pool)
	}

	client, err := vmemcached.NewClient(*target, config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(vmemcached.NewCollector(client))
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	fmt.Print("Testing connection...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = client.Ping(ctx)
	cancel()
	if err != nil {
		fmt.Printf(" FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(" OK")
	fmt.Println()

	if OperationType(*operation) == All {
		for _, op := range allOperations {
			printResult(runSingleOperation(client, op, *duration, *concurrency))
		}
	} else {
		printResult(runSingleOperation(client, OperationType(*operation), *duration, *concurrency))
	}

	stats := client.PoolStats().PoolStats
	fmt.Printf("Pool: created %d, destroyed %d, acquires %d, average wait %v\n",
		stats.CreatedConns, stats.DestroyedConns, stats.AcquireCount, stats.AverageWaitTime())
}

func runSingleOperation(client *vmemcached.Client, operation OperationType, duration time.Duration, concurrency int) *BenchmarkResult {
	fmt.Printf("Running %s benchmark...\n", operation)

	var op opFunc
	switch operation {
	case CacheHit:
		op = cacheHitOp(client, concurrency)
	case DynamicValue:
		op = dynamicValueOp(client)
	case CacheMiss:
		op = cacheMissOp(client)
	case Increment:
		op = incrementOp(client)
	case Delete:
		op = deleteOp(client)
	default:
		return &BenchmarkResult{
			Operation:    operation,
			ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation),
		}
	}

	return runBenchmark(operation, duration, concurrency, op)
}

// runBenchmark calls op from concurrency workers until duration elapses.
func runBenchmark(operation OperationType, duration time.Duration, concurrency int, op opFunc) *BenchmarkResult {
	result := &BenchmarkResult{Operation: operation, Correctness: true}

	var (
		totalOps       atomic.Int64
		successes      atomic.Int64
		failures       atomic.Int64
		totalLatencyNs atomic.Int64
		incorrect      atomic.Bool
		firstErr       atomic.Value
	)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for worker := range max(concurrency, 1) {
		g.Go(func() error {
			for i := 0; gctx.Err() == nil; i++ {
				opStart := time.Now()
				err := op(gctx, worker, i)
				totalLatencyNs.Add(int64(time.Since(opStart)))
				totalOps.Add(1)

				switch {
				case err == nil:
					successes.Add(1)
				case gctx.Err() != nil:
					// interrupted by the end of the run
					totalOps.Add(-1)
				case errors.Is(err, errIncorrect):
					incorrect.Store(true)
					failures.Add(1)
					firstErr.CompareAndSwap(nil, err.Error())
				default:
					failures.Add(1)
					firstErr.CompareAndSwap(nil, err.Error())
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	result.TotalOps = totalOps.Load()
	result.Successes = successes.Load()
	result.Failures = failures.Load()
	result.Correctness = !incorrect.Load()
	if msg, ok := firstErr.Load().(string); ok {
		result.ErrorMessage = msg
	}
	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(totalLatencyNs.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}
	return result
}

func cacheHitOp(client *vmemcached.Client, concurrency int) opFunc {
	value := []byte("benchmark-value-" + time.Now().Format(time.RFC3339Nano))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for worker := range max(concurrency, 1) {
		err := client.Set(ctx, vmemcached.Item{Key: cacheHitKey(worker), Value: value, TTL: time.Hour})
		if err != nil {
			log.Printf("Failed to prepare cache-hit keys: %v", err)
		}
	}

	return func(ctx context.Context, worker, _ int) error {
		item, err := client.Get(ctx, cacheHitKey(worker))
		if err != nil {
			return err
		}
		if !bytes.Equal(item.Value, value) {
			return fmt.Errorf("%w: got %q", errIncorrect, item.Value)
		}
		return nil
	}
}

func cacheHitKey(worker int) string {
	return "bench:hit:" + strconv.Itoa(worker)
}

func dynamicValueOp(client *vmemcached.Client) opFunc {
	return func(ctx context.Context, worker, iteration int) error {
		key := fmt.Sprintf("bench:dynamic:%d:%d", worker, iteration%100)
		value := []byte(fmt.Sprintf("value-%d-%d", worker, iteration))

		if err := client.Set(ctx, vmemcached.Item{Key: key, Value: value, TTL: time.Minute}); err != nil {
			return err
		}
		item, err := client.Get(ctx, key)
		if err != nil {
			return err
		}
		if !bytes.Equal(item.Value, value) {
			return fmt.Errorf("%w: got %q, want %q", errIncorrect, item.Value, value)
		}
		return nil
	}
}

func cacheMissOp(client *vmemcached.Client) opFunc {
	prefix := "bench:miss:" + strconv.FormatInt(time.Now().UnixNano(), 36)

	return func(ctx context.Context, worker, iteration int) error {
		_, err := client.Get(ctx, fmt.Sprintf("%s:%d:%d", prefix, worker, iteration))
		switch {
		case errors.Is(err, vmemcached.ErrCacheMiss):
			return nil
		case err != nil:
			return err
		default:
			return fmt.Errorf("%w: unexpected hit", errIncorrect)
		}
	}
}

func incrementOp(client *vmemcached.Client) opFunc {
	return func(ctx context.Context, worker, iteration int) error {
		key := "bench:counter:" + strconv.Itoa(worker)
		if iteration == 0 {
			if err := client.Set(ctx, vmemcached.Item{Key: key, Value: []byte("0"), TTL: time.Hour}); err != nil {
				return err
			}
		}

		n, err := client.Increment(ctx, key, 1)
		if err != nil {
			return err
		}
		// each worker owns its counter
		if n != uint64(iteration+1) {
			return fmt.Errorf("%w: counter is %d, want %d", errIncorrect, n, iteration+1)
		}
		return nil
	}
}

func deleteOp(client *vmemcached.Client) opFunc {
	return func(ctx context.Context, worker, iteration int) error {
		key := fmt.Sprintf("bench:delete:%d:%d", worker, iteration)
		if err := client.Set(ctx, vmemcached.Item{Key: key, Value: []byte("x"), TTL: time.Minute}); err != nil {
			return err
		}
		if err := client.Delete(ctx, key); err != nil {
			return err
		}
		if _, err := client.Get(ctx, key); !errors.Is(err, vmemcached.ErrCacheMiss) {
			return fmt.Errorf("%w: key still present after delete (%v)", errIncorrect, err)
		}
		return nil
	}
}

func printResult(result *BenchmarkResult) {
	fmt.Printf("Operation: %s\n", result.Operation)
	fmt.Printf("Duration: %v\n", result.Duration)
	fmt.Printf("Total Operations: %d\n", result.TotalOps)
	fmt.Printf("Successes: %d\n", result.Successes)
	fmt.Printf("Failures: %d\n", result.Failures)
	if result.TotalOps > 0 {
		fmt.Printf("Success Rate: %.2f%%\n", float64(result.Successes)/float64(result.TotalOps)*100)
		fmt.Printf("Ops/sec: %.2f\n", result.OpsPerSecond)
		fmt.Printf("Avg Latency: %v\n", result.AvgLatency)
	}
	fmt.Printf("Correctness: %t\n", result.Correctness)
	if result.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", result.ErrorMessage)
	}
	fmt.Println()
}
