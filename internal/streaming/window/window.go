// Package window keeps the bounded per-account transaction history that the
// live detectors evaluate.
package window

import (
	"context"
	"sort"
	"time"

	"github.com/Aidin1998/amlstream/internal/cache"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
)

const (
	DefaultSize = 100
	DefaultSpan = time.Hour
)

// Config bounds a window by entry count and by age
type Config struct {
	Size int           `mapstructure:"size" validate:"gt=0"`
	Span time.Duration `mapstructure:"span" validate:"gt=0"`
}

// DefaultConfig returns a window of 100 entries over one hour
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Span: DefaultSpan}
}

// Window stores per-account buffers in the shared TTL store. A buffer expires
// one span after its last write.
type Window struct {
	store cache.Store
	size  int
	span  time.Duration
}

// New creates a Window. Non-positive bounds fall back to the defaults.
func New(store cache.Store, cfg Config) *Window {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Span <= 0 {
		cfg.Span = DefaultSpan
	}
	return &Window{store: store, size: cfg.Size, span: cfg.Span}
}

// Key is the cache key of an account's buffer
func Key(accountID string) string {
	return "stream_buffer:" + accountID
}

// Get returns the account's buffer in ascending timestamp order. On a store
// failure the buffer is empty and the error is of kind cache.
func (w *Window) Get(ctx context.Context, accountID string) ([]models.Transaction, error) {
	var buffer []models.Transaction
	if _, err := cache.GetJSON(ctx, w.store, Key(accountID), &buffer); err != nil {
		return nil, apperrors.Cache.Explain("read window for %s", accountID).Wrap(err)
	}
	return buffer, nil
}

// Append inserts txn in timestamp order, applies the bounds and persists the
// result. The computed buffer is returned even when the store fails; the error
// then reports the degraded read or write.
func (w *Window) Append(ctx context.Context, accountID string, txn models.Transaction) ([]models.Transaction, error) {
	buffer, readErr := w.Get(ctx, accountID)

	for _, existing := range buffer {
		if existing.ID == txn.ID {
			return buffer, readErr
		}
	}

	buffer = Trim(insert(buffer, txn), w.size, w.span)

	if err := cache.SetJSON(ctx, w.store, Key(accountID), buffer, w.span); err != nil {
		return buffer, apperrors.Cache.Explain("write window for %s", accountID).Wrap(err)
	}
	return buffer, readErr
}

// insert places txn after every entry with an equal or earlier timestamp
func insert(buffer []models.Transaction, txn models.Transaction) []models.Transaction {
	i := sort.Search(len(buffer), func(i int) bool {
		return buffer[i].Timestamp.After(txn.Timestamp)
	})
	out := make([]models.Transaction, 0, len(buffer)+1)
	out = append(out, buffer[:i]...)
	out = append(out, txn)
	return append(out, buffer[i:]...)
}

// Trim drops entries older than span relative to the newest entry, then keeps
// the newest size entries. buffer must be in ascending timestamp order.
func Trim(buffer []models.Transaction, size int, span time.Duration) []models.Transaction {
	if len(buffer) == 0 {
		return buffer
	}
	cutoff := buffer[len(buffer)-1].Timestamp.Add(-span)
	start := sort.Search(len(buffer), func(i int) bool {
		return !buffer[i].Timestamp.Before(cutoff)
	})
	buffer = buffer[start:]
	if len(buffer) > size {
		buffer = buffer[len(buffer)-size:]
	}
	return buffer
}
