package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"subscription-api/pkg/logging"
)

// EventGuard claims short-lived keys so that two concurrent deliveries of the
// same provider event are not applied twice. The durable record of processed
// events lives in the database; the guard only covers the in-flight window.
type EventGuard interface {
	// Claim reports true if the key was free and is now held for ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees a key so a retried delivery can claim it again.
	Release(ctx context.Context, key string)
}

// NewEventGuard returns a Redis-backed guard, or an in-process one when no
// client is configured.
func NewEventGuard(client *redis.Client) EventGuard {
	if client == nil {
		return NewMemoryEventGuard()
	}
	return NewRedisEventGuard(client)
}

// RedisEventGuard uses SETNX with expiry.
type RedisEventGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisEventGuard creates a guard on client.
func NewRedisEventGuard(client *redis.Client) *RedisEventGuard {
	return &RedisEventGuard{client: client, prefix: "subscription_event:"}
}

func (g *RedisEventGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), ttl).Result()
}

func (g *RedisEventGuard) Release(ctx context.Context, key string) {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		logging.Errorf("Failed to release event guard key %s: %v", key, err)
	}
}

// MemoryEventGuard 内存防重放，单实例部署或 Redis 未配置时使用
type MemoryEventGuard struct {
	claims          map[string]time.Time // key -> expiry
	mutex           sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryEventGuard 创建内存防护实例并启动清理协程
func NewMemoryEventGuard() *MemoryEventGuard {
	g := &MemoryEventGuard{
		claims:          make(map[string]time.Time),
		cleanupInterval: 10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go g.startCleanupRoutine()
	return g
}

func (g *MemoryEventGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := time.Now()
	if expiry, exists := g.claims[key]; exists && now.Before(expiry) {
		return false, nil
	}
	g.claims[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryEventGuard) Release(_ context.Context, key string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	delete(g.claims, key)
}

// startCleanupRoutine 定期清理过期记录
func (g *MemoryEventGuard) startCleanupRoutine() {
	ticker := time.NewTicker(g.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopCleanup:
			return
		}
	}
}

func (g *MemoryEventGuard) cleanup() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := time.Now()
	initialCount := len(g.claims)
	for key, expiry := range g.claims {
		if now.After(expiry) {
			delete(g.claims, key)
		}
	}
	if cleaned := initialCount - len(g.claims); cleaned > 0 {
		logging.Infof("Event guard cleanup: removed %d expired claims, remaining: %d", cleaned, len(g.claims))
	}
}

// Stop 停止清理协程
func (g *MemoryEventGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stopCleanup) })
}
