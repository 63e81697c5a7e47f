package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "streamgate:dedup:"

// DedupStore implements domain.DedupStore on Redis. SET NX with a TTL
// makes MarkSeen atomic across instances: exactly one caller per key
// observes true within the window.
type DedupStore struct {
	rdb *goredis.Client
}

func NewDedupStore(client *Client) *DedupStore {
	return &DedupStore{rdb: client.Underlying()}
}

func (s *DedupStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := s.rdb.SetNX(ctx, dedupKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event seen: %w", err)
	}
	return set, nil
}
