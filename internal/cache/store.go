// Package cache provides the TTL key-value store shared by the streaming
// pipeline. Windows, velocity counters, risk snapshots and the ongoing case
// cache all live here and expire on their own.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Store is a TTL key-value store with atomic counters
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// IncrementCounter adds one occurrence and amount to the counter at key and
	// refreshes its TTL. It returns the totals after the increment.
	IncrementCounter(ctx context.Context, key string, amount decimal.Decimal, ttl time.Duration) (Counter, error)
}

// Counter is a count and cumulative amount
type Counter struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// GetJSON decodes the value at key into dst. found is false on a miss.
func GetJSON(ctx context.Context, s Store, key string, dst interface{}) (found bool, err error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key
func SetJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s for cache: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}
