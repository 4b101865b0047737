package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 同じwebhookの再送を短時間で弾く。最終的な重複判定はDB側
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// redis.Client のうち使う部分
type redisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type RedisReplayGuard struct {
	client redisClient
	prefix string
}

func NewRedisReplayGuard(client *redis.Client, prefix string) *RedisReplayGuard {
	return newRedisReplayGuard(client, prefix)
}

func newRedisReplayGuard(client redisClient, prefix string) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, prefix: prefix}
}

var _ ReplayGuard = (*RedisReplayGuard)(nil)

func (g *RedisReplayGuard) key(k string) string {
	var b strings.Builder
	b.Grow(len(g.prefix) + 1 + len(k))
	b.WriteString(g.prefix)
	b.WriteString(":")
	b.WriteString(k)
	return b.String()
}

func (g *RedisReplayGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisReplayGuard) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return g.client.SetNX(ctx, g.key(key), 1, ttl).Err()
}

// redisが無い環境用（プロセス内だけ）
type MemoryReplayGuard struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{keys: map[string]time.Time{}, now: time.Now}
}

var _ ReplayGuard = (*MemoryReplayGuard)(nil)

func (g *MemoryReplayGuard) Seen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	exp, ok := g.keys[key]
	if !ok {
		return false, nil
	}
	if !g.now().Before(exp) {
		delete(g.keys, key)
		return false, nil
	}
	return true, nil
}

func (g *MemoryReplayGuard) Mark(_ context.Context, key string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.keys {
		if !now.Before(exp) {
			delete(g.keys, k)
		}
	}
	if _, ok := g.keys[key]; !ok {
		g.keys[key] = now.Add(ttl)
	}
	return nil
}
