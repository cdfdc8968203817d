package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hypemarket/engine/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each option's
// latest prices live in a hash at key "price:{optionID}" with fields "yes",
// "no", and "ts" (Unix nanosecond timestamp). Trades overwrite the hash after
// commit; readers always see the most recent settled prices.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.raw()}
}

func priceKey(optionID string) string {
	return "price:" + optionID
}

// SetPrice stores the latest YES/NO prices and timestamp for an option.
func (pc *PriceCache) SetPrice(ctx context.Context, optionID string, yes, no float64, ts time.Time) error {
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(no, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(optionID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", optionID, err)
	}
	return nil
}

// GetPrice retrieves the latest prices and timestamp for an option. It
// returns domain.ErrNotFound when no price has been cached yet.
func (pc *PriceCache) GetPrice(ctx context.Context, optionID string) (float64, float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(optionID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", optionID, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	yes, err := parsePriceField(vals, "yes", optionID)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	no, err := parsePriceField(vals, "no", optionID)
	if err != nil {
		return 0, 0, time.Time{}, err
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", optionID, err)
	}

	return yes, no, time.Unix(0, tsNano), nil
}

func parsePriceField(vals map[string]string, field, optionID string) (float64, error) {
	raw, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse %s price %s: %w", field, optionID, err)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
