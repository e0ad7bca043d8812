package exam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serialises finishing of an attempt across gateway replicas. Within
// one process the machine's own finishing flag is enough.
type Guard interface {
	// Acquire reports ok=false when another holder is finishing key.
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// LocalGuard always grants; use it with a single replica.
type LocalGuard struct{}

func (LocalGuard) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisGuard takes a short-lived SET NX lock per attempt.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, prefix: "provas:finish:"}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	k := g.prefix + key
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("finish lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// release on a fresh context: the caller's may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.rdb, []string{k}, token).Err()
	}, true, nil
}
