// Package ratelimit paces upstream requests and enforces per-source daily request quotas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default quota configuration values.
const (
	DefaultKeyTTL = 48 * time.Hour // one day plus a buffer for clock skew between instances
)

// KeyPrefixQuota prefixes the per-source daily counters: quota:<source>:<yyyymmdd>
const KeyPrefixQuota = "quota:"

// ErrQuotaExhausted is returned when a source has used its daily request quota.
var ErrQuotaExhausted = errors.New("daily request quota exhausted")

// consumeScript atomically checks the counter against the limit and increments it.
// Returns {allowed, used}.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + 1 > limit then
		return {0, used}
	end

	used = redis.call('INCR', key)
	if used == 1 then
		redis.call('EXPIRE', key, ttl)
	end
	return {1, used}
`)

// SourceQuota coordinates per-source daily request counts across importer
// instances using Redis.
type SourceQuota struct {
	redis      redis.Cmdable
	dailyLimit int
	keyTTL     time.Duration
	now        func() time.Time
}

// SourceQuotaConfig holds configuration for the quota.
type SourceQuotaConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// DailyLimit is the number of requests each source may make per UTC day.
	DailyLimit int

	// KeyTTL is the TTL for counters. Default: 48h.
	KeyTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *SourceQuotaConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.DailyLimit <= 0 {
		return errors.New("daily limit must be positive")
	}
	if c.KeyTTL < 0 {
		return errors.New("key ttl cannot be negative")
	}
	return nil
}

// NewSourceQuota creates a new quota with the given configuration.
func NewSourceQuota(cfg *SourceQuotaConfig) (*SourceQuota, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &SourceQuota{
		redis:      cfg.Redis,
		dailyLimit: cfg.DailyLimit,
		keyTTL:     keyTTL,
		now:        time.Now,
	}, nil
}

func (q *SourceQuota) key(source string) string {
	return KeyPrefixQuota + source + ":" + q.now().UTC().Format("20060102")
}

// TryConsume charges one request to source. It reports whether the request is allowed
// and how many requests the source has used today.
func (q *SourceQuota) TryConsume(ctx context.Context, source string) (bool, int, error) {
	ttlSeconds := int(q.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, q.redis, []string{q.key(source)}, q.dailyLimit, ttlSeconds).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to charge quota for %s: %w", source, err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected quota script result: %v", result)
	}
	return result[0] == 1, int(result[1]), nil
}

// Consume charges one request and returns ErrQuotaExhausted when none are left.
// Redis failures are returned as is so callers can tell them apart from exhaustion.
func (q *SourceQuota) Consume(ctx context.Context, source string) error {
	allowed, used, err := q.TryConsume(ctx, source)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s used %d of %d: %w", source, used, q.dailyLimit, ErrQuotaExhausted)
	}
	return nil
}

// Used returns the requests source has made today.
func (q *SourceQuota) Used(ctx context.Context, source string) (int, error) {
	n, err := q.redis.Get(ctx, q.key(source)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read quota for %s: %w", source, err)
	}
	return n, nil
}

// Remaining returns the requests source may still make today.
func (q *SourceQuota) Remaining(ctx context.Context, source string) (int, error) {
	used, err := q.Used(ctx, source)
	if err != nil {
		return 0, err
	}
	if used >= q.dailyLimit {
		return 0, nil
	}
	return q.dailyLimit - used, nil
}

// DailyLimit returns the configured per-source limit.
func (q *SourceQuota) DailyLimit() int {
	return q.dailyLimit
}
