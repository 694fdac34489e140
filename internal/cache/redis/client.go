package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learncoach/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetAnswer caches a finished answer payload under the query hash.
func (c *Client) SetAnswer(ctx context.Context, queryHash string, payload interface{}, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("answer:%s", queryHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set answer cache: %w", err)
	}

	logger.Debug("Answer cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

// GetAnswer loads a cached answer into payload. The bool reports
// whether the key existed.
func (c *Client) GetAnswer(ctx context.Context, queryHash string, payload interface{}) (bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("answer:%s", queryHash)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get answer cache: %w", err)
	}

	err = json.Unmarshal(data, payload)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal answer: %w", err)
	}

	logger.Debug("Answer cache hit", zap.String("query_hash", queryHash))
	return true, nil
}

// InvalidateAnswers drops every cached answer. Called when course
// materials change, since stale answers may no longer match the index.
func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "answer:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Answer cache invalidated")
	return nil
}
