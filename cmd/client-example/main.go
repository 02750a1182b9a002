// Command client-example walks through the client API against a running
// cluster. Point it at the servers with SHARDIS_NODES, e.g.
//
//	SHARDIS_NODES=localhost:6379,localhost:6380,localhost:6381 go run ./cmd/client-example
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/cachemir/shardis/pkg/client"
	"github.com/cachemir/shardis/pkg/config"
)

func main() {
	cfg := config.LoadClientConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	c, err := client.New(cfg, client.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	go func() {
		for err := range c.Errors() {
			log.Printf("cluster error: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("=== shardis client example ===")
	if err := c.WaitReady(ctx); err != nil {
		log.Fatalf("cluster not ready: %v", err)
	}
	fmt.Printf("✓ Connected to %d servers\n", len(c.Servers()))

	if err := c.Ping(ctx); err != nil {
		log.Printf("PING failed: %v", err)
	}

	fmt.Println("\n--- String Operations ---")
	userKey := c.TableKey("users", "1")
	if err := c.Set(ctx, userKey, "john_doe", 0); err != nil {
		log.Printf("SET failed: %v", err)
	} else {
		owner, _ := c.ServerFor(userKey)
		fmt.Printf("✓ SET %s = john_doe (on %s)\n", userKey, owner)
	}
	if value, err := c.Get(ctx, userKey); err != nil {
		log.Printf("GET failed: %v", err)
	} else {
		fmt.Printf("✓ GET %s = %s\n", userKey, value)
	}
	if _, err := c.Get(ctx, "users:missing"); errors.Is(err, client.ErrNil) {
		fmt.Println("✓ GET users:missing = (nil)")
	}

	fmt.Println("\n--- Counter Operations ---")
	for i := 0; i < 2; i++ {
		if value, err := c.Incr(ctx, "counter"); err != nil {
			log.Printf("INCR failed: %v", err)
		} else {
			fmt.Printf("✓ INCR counter = %d\n", value)
		}
	}

	fmt.Println("\n--- Expiration ---")
	if err := c.Set(ctx, "temp_key", "temp_value", 5*time.Second); err != nil {
		log.Printf("SET with TTL failed: %v", err)
	} else if ttl, err := c.TTL(ctx, "temp_key"); err == nil {
		fmt.Printf("✓ TTL temp_key = %v\n", ttl)
	}

	fmt.Println("\n--- Co-located Keys ---")
	for _, field := range []string{"name", "email"} {
		key := "{user:1}:" + field
		if err := c.Set(ctx, key, field+"-value", 0); err != nil {
			log.Printf("SET failed: %v", err)
			continue
		}
		owner, _ := c.ServerFor(key)
		fmt.Printf("✓ %s lives on %s\n", key, owner)
	}

	fmt.Println("\n--- Hash, List and Set Operations ---")
	if err := c.HSet(ctx, "user:1:profile", "name", "John Doe"); err != nil {
		log.Printf("HSET failed: %v", err)
	}
	if profile, err := c.HGetAll(ctx, "user:1:profile"); err == nil {
		fmt.Printf("✓ HGETALL user:1:profile = %v\n", profile)
	}
	if n, err := c.LPush(ctx, "tasks", "task1", "task2"); err == nil {
		fmt.Printf("✓ LPUSH tasks -> length %d\n", n)
	}
	if members, err := c.SMembers(ctx, "tags"); err == nil {
		fmt.Printf("✓ SMEMBERS tags = %v\n", members)
	}

	fmt.Println("\n--- Cluster-wide Operations ---")
	if values, err := c.MGet(ctx, userKey, "counter", "temp_key"); err == nil {
		fmt.Printf("✓ MGET = %v\n", values)
	}
	if n, err := c.DBSize(ctx); err == nil {
		fmt.Printf("✓ DBSIZE = %d\n", n)
	}
	fmt.Printf("✓ Tables = %v\n", c.Tables())

	fmt.Println("\n=== Example completed ===")
}
