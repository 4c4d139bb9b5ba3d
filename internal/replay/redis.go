package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares claims between instances through Redis SET NX
type RedisGuard struct {
	client *redis.Client
	prefix string
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard creates a guard on an existing client
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{
		client: client,
		prefix: "nimbus:replay:",
	}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim key: %w", err)
	}
	return ok, nil
}
