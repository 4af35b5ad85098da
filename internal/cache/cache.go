// Package cache implements the local persistent snapshot cache on Redis.
// The core serializes its whole in-memory state into one blob per owner so
// a restart while offline resumes from the last known state instead of an
// empty one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNoSnapshot is returned when no snapshot exists for the owner.
	ErrNoSnapshot = errors.New("cache: no snapshot")

	// ErrConnection is returned when the Redis connection fails.
	ErrConnection = errors.New("cache: connection failed")

	// ErrEmptyOwner is returned when an empty owner id is provided.
	ErrEmptyOwner = errors.New("cache: owner id cannot be empty")
)

// snapshotKeyPrefix namespaces snapshot keys.
const snapshotKeyPrefix = "learnloop:snapshot:"

// SnapshotCache persists serialized state blobs keyed by owner id. A
// corrupt or missing blob must never prevent startup; callers treat every
// error here as "start empty".
type SnapshotCache interface {
	// Load returns the stored blob, or ErrNoSnapshot when none exists.
	Load(ctx context.Context, ownerID string) ([]byte, error)

	// Save stores the blob, replacing any previous snapshot.
	Save(ctx context.Context, ownerID string, blob []byte) error

	// Clear removes the owner's snapshot. Clearing a missing snapshot is
	// a no-op.
	Clear(ctx context.Context, ownerID string) error

	// Close releases resources.
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// SnapshotTTL bounds how long an untouched snapshot survives. Zero
	// means snapshots never expire.
	SnapshotTTL time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RedisCache implements SnapshotCache on go-redis.
type RedisCache struct {
	client *redis.Client
	config Config
}

var _ SnapshotCache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &RedisCache{client: client, config: cfg}, nil
}

// Load implements SnapshotCache.
func (c *RedisCache) Load(ctx context.Context, ownerID string) ([]byte, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}

	blob, err := c.client.Get(ctx, snapshotKeyPrefix+ownerID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: owner %s", ErrNoSnapshot, ownerID)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return blob, nil
}

// Save implements SnapshotCache.
func (c *RedisCache) Save(ctx context.Context, ownerID string, blob []byte) error {
	if ownerID == "" {
		return ErrEmptyOwner
	}

	if err := c.client.Set(ctx, snapshotKeyPrefix+ownerID, blob, c.config.SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Clear implements SnapshotCache.
func (c *RedisCache) Clear(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrEmptyOwner
	}

	if err := c.client.Del(ctx, snapshotKeyPrefix+ownerID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Close implements SnapshotCache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
