package cache

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"

	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores classifier verdicts keyed by reading so that an unchanged
// slider configuration does not cost another model call.
type Cache interface {
	Get(ctx context.Context, key string) (models.RiskVerdict, error)

	Set(ctx context.Context, key string, verdict models.RiskVerdict) error

	SetWithTTL(ctx context.Context, key string, verdict models.RiskVerdict, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Connected bool   `json:"connected"`
	Info      string `json:"info"`
}

// ReadingKey derives a cache key from the channels the classifier sees.
// Timestamp is deliberately excluded so identical slider states collide.
func ReadingKey(reading models.SensorReading) string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%.2f|%.2f|%.2f|%.2f|%s",
		reading.VehicleID,
		reading.LeftClearance,
		reading.RightClearance,
		reading.ClosingSpeed,
		reading.VehicleSpeed,
		reading.DrivingMode)
	return fmt.Sprintf("%x", h.Sum(nil))
}
