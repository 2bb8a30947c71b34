package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tournament-engine/internal/config"
)

// NewClient dials Redis and verifies the connection.
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// SettlementLocker hands out one-shot per-session locks so that exactly
// one settlement attempt proceeds even when several clients report the
// same finished match concurrently.
type SettlementLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSettlementLocker creates a locker. ttl bounds how long a crashed
// settler can hold a session before another reporter may retry.
func NewSettlementLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SettlementLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SettlementLocker{client: client, ttl: ttl, logger: logger}
}

func (l *SettlementLocker) key(sessionID string) string {
	return fmt.Sprintf("session:%s:settle-lock", sessionID)
}

// Acquire takes the session's settlement lock. Returns false when
// another settler holds it.
func (l *SettlementLocker) Acquire(ctx context.Context, sessionID, holder string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(sessionID), holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring settlement lock: %w", err)
	}
	return ok, nil
}

// Release frees the lock if the holder still owns it.
func (l *SettlementLocker) Release(ctx context.Context, sessionID, holder string) error {
	// Compare-and-delete so a late release cannot drop a lock that was
	// re-acquired after expiry.
	const script = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	if err := l.client.Eval(ctx, script, []string{l.key(sessionID)}, holder).Err(); err != nil {
		return fmt.Errorf("releasing settlement lock: %w", err)
	}
	return nil
}
