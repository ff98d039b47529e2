package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/pkg/logger"
)

// Client caches normalized prediction results keyed by image content hash.
// The type lookup path is deliberately not cached; only the external
// inference call is, since it is deterministic per image.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
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

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetPrediction(ctx context.Context, imageHash string, result *models.PredictionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("prediction:%s", imageHash), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set prediction cache: %w", err)
	}

	logger.Debug("Prediction cached", zap.String("image_hash", imageHash), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetPrediction(ctx context.Context, imageHash string) (*models.PredictionResult, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("prediction:%s", imageHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var result models.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}

	logger.Debug("Prediction cache hit", zap.String("image_hash", imageHash))
	return &result, true, nil
}
