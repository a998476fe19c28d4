// Package cache keeps terminal predictions in Redis. A terminal prediction
// never changes again, so cached copies are served without a provider call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
)

const keyPrefix = "meshrelay:prediction:"

// Predictions is a read-through cache of terminal predictions.
type Predictions struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewPredictions(client *redis.Client, ttl time.Duration, logger *infra.Logger) *Predictions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Predictions{redis: client, ttl: ttl, logger: infra.LoggerOrDiscard(logger)}
}

// Get returns the cached prediction, or nil on a miss.
func (c *Predictions) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	data, err := c.redis.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get prediction: %w", err)
	}
	var pred domain.Prediction
	if err := json.Unmarshal(data, &pred); err != nil {
		c.logger.Warn().Err(err).Str("prediction_id", id).Msg("dropping undecodable cache entry")
		_ = c.redis.Del(ctx, keyPrefix+id).Err()
		return nil, nil
	}
	return &pred, nil
}

// Put stores pred when it is terminal. Non-terminal predictions are ignored.
func (c *Predictions) Put(ctx context.Context, pred *domain.Prediction) error {
	if !pred.Terminal() {
		return nil
	}
	data, err := json.Marshal(pred)
	if err != nil {
		return fmt.Errorf("cache: encode prediction: %w", err)
	}
	if err := c.redis.Set(ctx, keyPrefix+pred.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set prediction: %w", err)
	}
	return nil
}
