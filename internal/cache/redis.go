package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	counterCountField  = "count"
	counterAmountField = "amount"
)

// RedisStore implements Store on Redis. Values above compressionMin bytes are
// gzipped. Every call is bounded by opTimeout.
type RedisStore struct {
	client         redis.UniversalClient
	keyPrefix      string
	opTimeout      time.Duration
	compressionMin int64

	hits   int64
	misses int64
	sets   int64
	errors int64
}

// RedisStoreOptions configures a RedisStore
type RedisStoreOptions struct {
	KeyPrefix      string
	OpTimeout      time.Duration
	CompressionMin int64
}

type storedItem struct {
	Data       []byte `json:"data"`
	Compressed bool   `json:"compressed,omitempty"`
}

// NewRedisStore creates a new RedisStore
func NewRedisStore(client redis.UniversalClient, opts RedisStoreOptions) *RedisStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "amlstream:"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 50 * time.Millisecond
	}
	if opts.CompressionMin <= 0 {
		opts.CompressionMin = 4096
	}
	return &RedisStore{
		client:         client,
		keyPrefix:      opts.KeyPrefix,
		opTimeout:      opts.OpTimeout,
		compressionMin: opts.CompressionMin,
	}
}

func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			return nil, false, nil
		}
		atomic.AddInt64(&c.errors, 1)
		return nil, false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return nil, false, fmt.Errorf("failed to unmarshal cached %s: %w", key, err)
	}
	data := item.Data
	if item.Compressed {
		if data, err = decompress(item.Data); err != nil {
			atomic.AddInt64(&c.errors, 1)
			return nil, false, fmt.Errorf("failed to decompress cached %s: %w", key, err)
		}
	}

	atomic.AddInt64(&c.hits, 1)
	return data, true, nil
}

func (c *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := storedItem{Data: value}
	if int64(len(value)) >= c.compressionMin {
		compressed, err := compress(value)
		if err != nil {
			atomic.AddInt64(&c.errors, 1)
			return fmt.Errorf("failed to compress %s: %w", key, err)
		}
		item = storedItem{Data: compressed, Compressed: true}
	}
	raw, err := json.Marshal(item)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.keyPrefix+key, raw, ttl).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	atomic.AddInt64(&c.sets, 1)
	return nil
}

func (c *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

// IncrementCounter keeps the counter in a hash and bumps both fields and the
// TTL in one transaction.
func (c *RedisStore) IncrementCounter(ctx context.Context, key string, amount decimal.Decimal, ttl time.Duration) (Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	redisKey := c.keyPrefix + key
	var (
		countCmd  *redis.IntCmd
		amountCmd *redis.FloatCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.HIncrBy(ctx, redisKey, counterCountField, 1)
		amountCmd = pipe.HIncrByFloat(ctx, redisKey, counterAmountField, amount.InexactFloat64())
		pipe.Expire(ctx, redisKey, ttl)
		return nil
	})
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return Counter{}, fmt.Errorf("failed to increment %s in redis: %w", key, err)
	}

	total, err := decimal.NewFromString(strconv.FormatFloat(amountCmd.Val(), 'f', -1, 64))
	if err != nil {
		return Counter{}, fmt.Errorf("invalid counter amount for %s: %w", key, err)
	}
	atomic.AddInt64(&c.sets, 1)
	return Counter{Count: countCmd.Val(), Amount: total}, nil
}

// Stats returns hit, miss, set and error counts
func (c *RedisStore) Stats() map[string]int64 {
	return map[string]int64{
		"hits":   atomic.LoadInt64(&c.hits),
		"misses": atomic.LoadInt64(&c.misses),
		"sets":   atomic.LoadInt64(&c.sets),
		"errors": atomic.LoadInt64(&c.errors),
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
