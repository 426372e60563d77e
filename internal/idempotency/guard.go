// Package idempotency provides short-lived claims on webhook deliveries so two
// concurrent deliveries of the same provider transaction are not processed in
// parallel.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Guard interface {
	// Claim reports whether the caller now owns key and returns the token that
	// proves ownership. A claim expires after the guard's TTL even if never
	// released.
	Claim(ctx context.Context, key string) (token string, ok bool, err error)
	// Release drops the claim on key only while it is still held with token, so
	// a holder whose claim expired cannot release a later holder's claim.
	Release(ctx context.Context, key, token string) error
}

type redisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) Guard {
	return &redisGuard{client: client, prefix: prefix, ttl: ttl}
}

// releaseScript deletes KEYS[1] only when it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *redisGuard) key(key string) string {
	return fmt.Sprintf("%s:webhook-claim:%s", g.prefix, key)
}

func (g *redisGuard) Claim(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key(key), token, g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis claim %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (g *redisGuard) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key(key)}, token).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}

type memoryClaim struct {
	token   string
	expires time.Time
}

type memoryGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]memoryClaim
}

// NewMemoryGuard returns a process-local guard, used when no Redis is configured.
func NewMemoryGuard(ttl time.Duration) Guard {
	return &memoryGuard{ttl: ttl, now: time.Now, claims: map[string]memoryClaim{}}
}

func (g *memoryGuard) Claim(ctx context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, c := range g.claims {
		if !now.Before(c.expires) {
			delete(g.claims, k)
		}
	}
	if _, held := g.claims[key]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	g.claims[key] = memoryClaim{token: token, expires: now.Add(g.ttl)}
	return token, true, nil
}

func (g *memoryGuard) Release(ctx context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, held := g.claims[key]; held && c.token == token {
		delete(g.claims, key)
	}
	return nil
}
