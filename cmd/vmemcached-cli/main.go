package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pior/vmemcached"
)

func main() {
	var (
		target  = flag.String("target", "localhost:11211", "memcached target: host[:port], memcache[+tls]://[user:pass@]host[:port] or unix:///path")
		timeout = flag.Duration("timeout", 2*time.Second, "timeout of each command")
		verbose = flag.Bool("v", false, "log connection events")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := vmemcached.NewClient(*target, vmemcached.Config{
		MaxSize: 1,
		Logger:  logger,
	})
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Printf("Connected to %s. Type 'help' for available commands.\n", client.PoolStats().Target)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command := strings.ToLower(parts[0])
		if command == "quit" || command == "exit" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		err := run(ctx, client, command, parts[1:])
		duration := time.Since(start)
		cancel()

		switch {
		case errors.Is(err, errUsage):
			fmt.Println(err)
		case errors.Is(err, vmemcached.ErrCacheMiss):
			fmt.Printf("Key not found (took %v)\n", duration)
		case errors.Is(err, vmemcached.ErrNotStored):
			fmt.Printf("Not stored (took %v)\n", duration)
		case errors.Is(err, vmemcached.ErrCASConflict):
			fmt.Printf("Modified since fetched (took %v)\n", duration)
		case err != nil:
			fmt.Printf("Error: %v (took %v)\n", err, duration)
		default:
			fmt.Printf("OK (took %v)\n", duration)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

func run(ctx context.Context, client *vmemcached.Client, command string, args []string) error {
	switch command {
	case "get":
		if len(args) != 1 {
			return usage("get <key>")
		}
		item, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		printItem(item)

	case "gets", "mget":
		if len(args) == 0 {
			return usage("gets <key> [<key>...]")
		}
		items, err := client.GetMulti(ctx, args)
		if err != nil {
			return err
		}
		for _, key := range args {
			if item, ok := items[key]; ok {
				printItem(item)
			} else {
				fmt.Printf("  %s: <not found>\n", key)
			}
		}

	case "set", "add", "replace", "append", "prepend":
		if len(args) < 2 || len(args) > 3 {
			return usage(command + " <key> <value> [ttl_seconds]")
		}
		item := vmemcached.Item{Key: args[0], Value: []byte(args[1])}
		if len(args) == 3 {
			ttl, err := parseSeconds(args[2])
			if err != nil {
				return err
			}
			item.TTL = ttl
		}
		return store(ctx, client, command, item)

	case "cas":
		if len(args) < 3 || len(args) > 4 {
			return usage("cas <key> <value> <cas_unique> [ttl_seconds]")
		}
		unique, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return usage("cas <key> <value> <cas_unique> [ttl_seconds]")
		}
		item := vmemcached.Item{Key: args[0], Value: []byte(args[1]), CAS: unique}
		if len(args) == 4 {
			if item.TTL, err = parseSeconds(args[3]); err != nil {
				return err
			}
		}
		return client.CompareAndSwap(ctx, item)

	case "delete", "del":
		if len(args) != 1 {
			return usage("delete <key>")
		}
		return client.Delete(ctx, args[0])

	case "touch":
		if len(args) != 2 {
			return usage("touch <key> <ttl_seconds>")
		}
		ttl, err := parseSeconds(args[1])
		if err != nil {
			return err
		}
		return client.Touch(ctx, args[0], ttl)

	case "incr", "decr":
		if len(args) != 2 {
			return usage(command + " <key> <delta>")
		}
		delta, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return usage(command + " <key> <delta>")
		}
		var n uint64
		if command == "incr" {
			n, err = client.Increment(ctx, args[0], delta)
		} else {
			n, err = client.Decrement(ctx, args[0], delta)
		}
		if err != nil {
			return err
		}
		fmt.Printf("  %d\n", n)

	case "version":
		version, err := client.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", version)

	case "flush_all", "flush":
		var delay time.Duration
		if len(args) == 1 {
			var err error
			if delay, err = parseSeconds(args[0]); err != nil {
				return err
			}
		}
		return client.FlushAll(ctx, delay)

	case "stats":
		group := ""
		if len(args) > 0 {
			group = args[0]
		}
		stats, err := client.ServerStats(ctx, group)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Printf("  %-30s %s\n", k, stats[k])
		}

	case "pool":
		printPoolStats(client)

	case "ping":
		return client.Ping(ctx)

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  get <key>                          - Get a value by key")
		fmt.Println("  gets <key> [<key>...]              - Get values with their cas unique")
		fmt.Println("  set|add|replace <key> <value> [ttl]")
		fmt.Println("  append|prepend <key> <value>")
		fmt.Println("  cas <key> <value> <cas> [ttl]      - Store if unchanged since gets")
		fmt.Println("  delete <key>                       - Delete a key")
		fmt.Println("  touch <key> <ttl>                  - Update the expiration of a key")
		fmt.Println("  incr|decr <key> <delta>            - Update a counter")
		fmt.Println("  flush_all [delay]                  - Invalidate all items")
		fmt.Println("  stats [group]                      - Show server statistics")
		fmt.Println("  version                            - Show server version")
		fmt.Println("  pool                               - Show client and pool statistics")
		fmt.Println("  ping                               - Check the server answers")
		fmt.Println("  quit                               - Exit the CLI")
		return nil

	default:
		return fmt.Errorf("%w: unknown command %q, type 'help' for available commands", errUsage, command)
	}

	return nil
}

func store(ctx context.Context, client *vmemcached.Client, command string, item vmemcached.Item) error {
	switch command {
	case "add":
		return client.Add(ctx, item)
	case "replace":
		return client.Replace(ctx, item)
	case "append":
		return client.Append(ctx, item)
	case "prepend":
		return client.Prepend(ctx, item)
	default:
		return client.Set(ctx, item)
	}
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%w: invalid number of seconds %q", errUsage, s)
	}
	return time.Duration(secs) * time.Second, nil
}

func printItem(item vmemcached.Item) {
	fmt.Printf("  %s: %s (flags=%d", item.Key, item.Value, item.Flags)
	if item.CAS != 0 {
		fmt.Printf(" cas=%d", item.CAS)
	}
	fmt.Println(")")
}

func printPoolStats(client *vmemcached.Client) {
	ps := client.PoolStats()
	cs := client.Stats()

	fmt.Printf("Server %s:\n", ps.Target)
	fmt.Printf("  Total Connections:  %d\n", ps.PoolStats.TotalConns)
	fmt.Printf("  Active Connections: %d\n", ps.PoolStats.ActiveConns)
	fmt.Printf("  Idle Connections:   %d\n", ps.PoolStats.IdleConns)
	fmt.Printf("  Created/Destroyed:  %d/%d\n", ps.PoolStats.CreatedConns, ps.PoolStats.DestroyedConns)
	fmt.Printf("  Acquire Errors:     %d\n", ps.PoolStats.AcquireErrors)
	fmt.Printf("  Avg Wait:           %v\n", ps.PoolStats.AverageWaitTime())
	fmt.Println("Client:")
	fmt.Printf("  Gets: %d (hit ratio %.2f)\n", cs.Gets, cs.HitRatio())
	fmt.Printf("  Sets: %d, Deletes: %d, Touches: %d, Incr/Decr: %d, Others: %d\n",
		cs.Sets, cs.Deletes, cs.Touches, cs.Increments, cs.Others)
	fmt.Printf("  Errors: %d\n", cs.Errors)
}
