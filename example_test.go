package vmemcached_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pior/vmemcached"
	"github.com/prometheus/client_golang/prometheus"
)

func Example() {
	client, err := vmemcached.NewClient("localhost:11211", vmemcached.Config{
		MaxSize:             20,
		MaxConnIdleTime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = client.Set(ctx, vmemcached.Item{Key: "greeting", Value: []byte("hello"), TTL: time.Hour})
	if err != nil {
		log.Printf("set failed: %v", err)
		return
	}

	item, err := client.Get(ctx, "greeting")
	switch {
	case errors.Is(err, vmemcached.ErrCacheMiss):
		fmt.Println("not found")
	case err != nil:
		log.Printf("get failed: %v", err)
	default:
		fmt.Printf("%s\n", item.Value)
	}
}

func ExampleClient_CompareAndSwap() {
	client, err := vmemcached.NewClient("localhost:11211", vmemcached.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	for {
		items, err := client.GetMulti(ctx, []string{"visits"})
		if err != nil {
			log.Fatal(err)
		}
		item, ok := items["visits"]
		if !ok {
			err = client.Add(ctx, vmemcached.Item{Key: "visits", Value: []byte("1")})
		} else {
			item.Value = append(item.Value, '!')
			err = client.CompareAndSwap(ctx, item)
		}

		if errors.Is(err, vmemcached.ErrCASConflict) || errors.Is(err, vmemcached.ErrNotStored) {
			continue // lost the race, try again
		}
		if err != nil {
			log.Fatal(err)
		}
		return
	}
}

func ExampleNewCircuitBreakerConfig() {
	client, err := vmemcached.NewClient("memcache://cache.internal:11211", vmemcached.Config{
		NewCircuitBreaker: vmemcached.NewCircuitBreakerConfig(
			3,              // requests allowed in half-open state
			time.Minute,    // interval to clear counts
			10*time.Second, // time in open state before trying again
		),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	stats := client.PoolStats()
	fmt.Printf("%s: breaker %s\n", stats.Target, stats.CircuitBreakerState)
}

func ExampleNewCollector() {
	client, err := vmemcached.NewClient("localhost:11211", vmemcached.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	prometheus.MustRegister(vmemcached.NewCollector(client))
}

func ExampleGetValue() {
	type session struct {
		UserID int    `json:"user_id"`
		Locale string `json:"locale"`
	}

	client, err := vmemcached.NewClient("localhost:11211", vmemcached.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	err = vmemcached.SetValue(ctx, client, "session:42", session{UserID: 42, Locale: "fr"}, 30*time.Minute)
	if err != nil {
		log.Fatal(err)
	}

	s, err := vmemcached.GetValue[session](ctx, client, "session:42")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(s.Locale)
}
