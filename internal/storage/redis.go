package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trail-importer/internal/config"
	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
)

// ErrCacheMiss is returned when a key is not cached
var ErrCacheMiss = errors.New("cache miss")

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// JobStatusCache mirrors import job progress so pollers do not hit Postgres
type JobStatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

const jobStatusKeyPrefix = "import:job:"

// NewJobStatusCache creates a cache whose entries expire after ttl
func NewJobStatusCache(client redis.Cmdable, ttl time.Duration) *JobStatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStatusCache{client: client, ttl: ttl}
}

func jobStatusKey(id string) string {
	return jobStatusKeyPrefix + id
}

// Put stores a snapshot of the job
func (c *JobStatusCache) Put(ctx context.Context, job *models.ImportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}
	if err := c.client.Set(ctx, jobStatusKey(job.ID), data, c.ttl).Err(); err != nil {
		return apperrors.NewCacheError("put job status", err)
	}
	return nil
}

// Get returns the cached snapshot or ErrCacheMiss
func (c *JobStatusCache) Get(ctx context.Context, id string) (*models.ImportJob, error) {
	data, err := c.client.Get(ctx, jobStatusKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, apperrors.NewCacheError("get job status", err)
	}

	var job models.ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, apperrors.NewCacheError("decode job status", err)
	}
	return &job, nil
}

// Delete removes the cached snapshot
func (c *JobStatusCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, jobStatusKey(id)).Err(); err != nil {
		return apperrors.NewCacheError("delete job status", err)
	}
	return nil
}
