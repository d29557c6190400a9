package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/maltedev/yellowpages-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const keyPrefix = "yp:search:"

// RedisClient is the part of the redis client the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// SearchCache stores completed search results so repeated queries do not
// relaunch a browser.
type SearchCache struct {
	client RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens and pings a redis client. The serve command shares it between
// the cache and the outbox relay.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewWithClient(client RedisClient, ttl time.Duration, logger *slog.Logger) *SearchCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Key normalises a query so differently cased or spaced requests share an entry.
func Key(terms, location string, pages int) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return fmt.Sprintf("%s%s|%s|%d", keyPrefix, norm(terms), norm(location), pages)
}

// Get returns the cached result, or nil on a miss.
func (c *SearchCache) Get(ctx context.Context, key string) (*models.SearchResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var result models.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, nil
	}
	return &result, nil
}

func (c *SearchCache) Set(ctx context.Context, key string, result *models.SearchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
