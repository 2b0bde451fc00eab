package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LatestObservations caches the most recent observation timestamp per
// location in Redis. The pipeline uses it as a fast path for the freshness
// check; a miss falls back to the database.
type LatestObservations struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewLatestObservations creates a new latest-observation cache
func NewLatestObservations(redisClient *redis.Client, ttl time.Duration) *LatestObservations {
	return &LatestObservations{redis: redisClient, ttl: ttl}
}

func key(locationID int64) string {
	return fmt.Sprintf("latest_obs:%d", locationID)
}

// GetLatestTimestamp returns the cached timestamp for a location. The second
// return value is false when no entry exists.
func (c *LatestObservations) GetLatestTimestamp(ctx context.Context, locationID int64) (time.Time, bool, error) {
	data, err := c.redis.Get(ctx, key(locationID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get timestamp from Redis: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, data)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse cached timestamp: %w", err)
	}

	return ts, true, nil
}

// SetLatestTimestamp records the latest observation timestamp for a
// location. Entries expire so deleted locations clean up on their own.
func (c *LatestObservations) SetLatestTimestamp(ctx context.Context, locationID int64, ts time.Time) error {
	if err := c.redis.Set(ctx, key(locationID), ts.UTC().Format(time.RFC3339), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set timestamp in Redis: %w", err)
	}
	return nil
}
