// RedisClient is a thin wrapper around go-redis adding DB isolation and
// key namespacing, the same pattern the teacher uses to keep its
// discovery, rate-limiting and circuit-breaker state from colliding in
// a single shared Redis instance. Here it backs the Messaging Bus's
// mailbox/shared-state store and the LLM Gateway's response cache.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient provides a simplified Redis interface for modules with DB isolation
type RedisClient struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisClientOptions configures the Redis client
type RedisClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    Logger
}

// NewRedisClient creates a new Redis client with specified options
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, ErrConnectionFailed)
	}

	rc := &RedisClient{
		client:    client,
		dbID:      opts.DB,
		namespace: opts.Namespace,
		logger:    opts.Logger,
	}

	if rc.logger != nil {
		rc.logger.Info("Redis client connected", map[string]interface{}{
			"db":        opts.DB,
			"db_name":   GetRedisDBName(opts.DB),
			"namespace": opts.Namespace,
		})
	}

	return rc, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// GetDB returns the DB number being used
func (r *RedisClient) GetDB() int {
	return r.dbID
}

// GetNamespace returns the namespace being used
func (r *RedisClient) GetNamespace() string {
	return r.namespace
}

func (r *RedisClient) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, r.formatKey(key)).Result()
}

// Set stores a value with optional TTL
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// Del deletes keys
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	formattedKeys := make([]string, len(keys))
	for i, key := range keys {
		formattedKeys[i] = r.formatKey(key)
	}
	return r.client.Del(ctx, formattedKeys...).Err()
}

// Exists reports whether key exists.
func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	return n > 0, err
}

// TTL gets the TTL of a key
func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, r.formatKey(key)).Result()
}

// LPush pushes a value onto the head of a list, used by the Messaging
// Bus to append to an agent's mailbox.
func (r *RedisClient) LPush(ctx context.Context, key string, value interface{}) error {
	return r.client.LPush(ctx, r.formatKey(key), value).Err()
}

// LRange returns a slice of a list, used to read an agent's mailbox.
func (r *RedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, r.formatKey(key), start, stop).Result()
}

// Keys returns all keys matching a namespaced pattern.
func (r *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, r.formatKey(pattern)).Result()
}

// HealthCheck verifies Redis connectivity
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisMemory adapts a RedisClient to the Memory interface for callers
// that need string-valued, TTL'd key storage — the LLM Gateway's
// response cache being the only current consumer. RedisClient's own
// Set/Del are kept broader (interface{} values, variadic key deletion)
// for the Messaging Bus's mailbox use, so this wraps rather than
// narrows them in place.
type RedisMemory struct {
	client *RedisClient
}

// NewRedisMemory wraps client for use as an llm.Gateway response cache,
// conventionally pointed at RedisDBLLMCache.
func NewRedisMemory(client *RedisClient) *RedisMemory {
	return &RedisMemory{client: client}
}

func (m *RedisMemory) Get(ctx context.Context, key string) (string, error) {
	return m.client.Get(ctx, key)
}

func (m *RedisMemory) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return m.client.Set(ctx, key, value, ttl)
}

func (m *RedisMemory) Delete(ctx context.Context, key string) error {
	return m.client.Del(ctx, key)
}

func (m *RedisMemory) Exists(ctx context.Context, key string) (bool, error) {
	return m.client.Exists(ctx, key)
}

// Standard Redis DB allocation, mirroring the teacher's DB-isolation
// convention: each subsystem owns a database so a single shared Redis
// instance never collides keys across concerns.
const (
	RedisDBMailbox        = 0 // Messaging Bus mailboxes and shared state
	RedisDBArtifacts      = 1 // Artifact Store similarity cache
	RedisDBLLMCache       = 2 // LLM Gateway response cache
	RedisDBCircuitBreaker = 3 // Supervisor circuit breaker state

	RedisDBReservedStart = 4
	RedisDBReservedEnd   = 15
)

// IsReservedDB reports whether db is reserved for future engine extensions.
func IsReservedDB(db int) bool {
	return db >= RedisDBReservedStart && db <= RedisDBReservedEnd
}

// GetRedisDBName returns a human-readable name for the Redis DB
func GetRedisDBName(db int) string {
	switch db {
	case RedisDBMailbox:
		return "Mailbox"
	case RedisDBArtifacts:
		return "Artifacts"
	case RedisDBLLMCache:
		return "LLM Cache"
	case RedisDBCircuitBreaker:
		return "Circuit Breaker"
	default:
		if IsReservedDB(db) {
			return fmt.Sprintf("Reserved DB %d", db)
		}
		return fmt.Sprintf("DB %d", db)
	}
}
