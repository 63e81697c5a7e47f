package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var testClient *Client

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start redis container: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate redis container: %v\n", err)
		}
	}()

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testClient, err = NewClient(connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create redis client: %v\n", err)
		os.Exit(1)
	}
	defer testClient.Close()

	if err := testClient.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func setupDedupStore(t *testing.T) *DedupStore {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Cleanup(func() {
		testClient.Underlying().FlushDB(context.Background())
	})
	return NewDedupStore(testClient)
}

func TestMarkSeenFirstAndRepeat(t *testing.T) {
	store := setupDedupStore(t)
	ctx := context.Background()

	first, err := store.MarkSeen(ctx, "channel.follow:evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.MarkSeen(ctx, "channel.follow:evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	other, err := store.MarkSeen(ctx, "channel.follow:evt-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestMarkSeenConcurrentSingleWinner(t *testing.T) {
	store := setupDedupStore(t)
	ctx := context.Background()

	const callers = 20
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		go func() {
			seen, err := store.MarkSeen(ctx, "contended-key", time.Minute)
			if err != nil {
				seen = false
			}
			results <- seen
		}()
	}

	winners := 0
	for i := 0; i < callers; i++ {
		if <-results {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestMarkSeenWindowExpires(t *testing.T) {
	store := setupDedupStore(t)
	ctx := context.Background()

	first, err := store.MarkSeen(ctx, "short-lived", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, first)

	time.Sleep(200 * time.Millisecond)

	again, err := store.MarkSeen(ctx, "short-lived", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, again, "key must be forgettable after the window")
}
