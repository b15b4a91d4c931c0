package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
)

const (
	defaultMetaTTL       = 24 * time.Hour
	defaultScanBatchSize = 100
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisMetaCache is a MetaCache shared across processes of the same user.
// Keys are scoped by a per-session prefix so Clear only touches this session.
type RedisMetaCache struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	ttl        time.Duration
	log        *zap.Logger
}

// NewRedisMetaCache connects to Redis and verifies the connection
func NewRedisMetaCache(cfg RedisConfig, log *zap.Logger) (*RedisMetaCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewRedisMetaCacheWithClient(client, cfg.KeyPrefix, cfg.TTL, log)
	c.ownsClient = true
	return c, nil
}

// NewRedisMetaCacheWithClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisMetaCacheWithClient(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *RedisMetaCache {
	if prefix == "" {
		prefix = "tm:meta:"
	}
	if ttl <= 0 {
		ttl = defaultMetaTTL
	}
	return &RedisMetaCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.OrNop(log).Named("cache.redis"),
	}
}

func (c *RedisMetaCache) key(conversationID int64) string {
	return c.prefix + strconv.FormatInt(conversationID, 10)
}

// Get returns the cached header. Redis errors count as a miss.
func (c *RedisMetaCache) Get(ctx context.Context, conversationID int64) (models.ConversationMeta, bool) {
	data, err := c.client.Get(ctx, c.key(conversationID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("meta cache read failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
		return models.ConversationMeta{}, false
	}
	var meta models.ConversationMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		c.log.Warn("dropping corrupt meta cache entry", zap.Int64("conversation_id", conversationID), zap.Error(err))
		_ = c.client.Del(ctx, c.key(conversationID)).Err()
		return models.ConversationMeta{}, false
	}
	return meta, true
}

// Set stores the header with the configured TTL. Failures are logged only.
func (c *RedisMetaCache) Set(ctx context.Context, conversationID int64, meta models.ConversationMeta) {
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(conversationID), data, c.ttl).Err(); err != nil {
		c.log.Warn("meta cache write failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
}

// Clear deletes every key under the session prefix
func (c *RedisMetaCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", defaultScanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan meta cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to clear meta cache: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the client if this cache created it
func (c *RedisMetaCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}

var _ MetaCache = (*RedisMetaCache)(nil)
