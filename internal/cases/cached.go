package cases

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlstream/internal/cache"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
)

// DefaultCacheTTL bounds how stale a cached case list can be
const DefaultCacheTTL = 5 * time.Minute

// CachedLookup serves case lists from the TTL store and falls back to the
// underlying Lookup on a miss
type CachedLookup struct {
	store  cache.Store
	next   Lookup
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLookup creates a new CachedLookup
func NewCachedLookup(store cache.Store, next Lookup, ttl time.Duration, logger *zap.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLookup{store: store, next: next, ttl: ttl, logger: logger}
}

// Key is the cache key of an owner's ongoing case list
func Key(ownerID string) string {
	return "ongoing_cases:" + ownerID
}

// OpenCasesFor returns the cached list or loads and caches it. Cache faults
// are logged and bypassed; a failing backing lookup is a case_lookup error.
func (l *CachedLookup) OpenCasesFor(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string
	found, err := cache.GetJSON(ctx, l.store, Key(ownerID), &ids)
	if err != nil {
		l.logger.Warn("Ongoing case cache read failed",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
	if found {
		return ids, nil
	}

	ids, err = l.next.OpenCasesFor(ctx, ownerID)
	if err != nil {
		return nil, apperrors.CaseLookup.Explain("owner %s", ownerID).Wrap(err)
	}
	if ids == nil {
		ids = []string{}
	}

	if err := cache.SetJSON(ctx, l.store, Key(ownerID), ids, l.ttl); err != nil {
		l.logger.Warn("Ongoing case cache write failed",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
	return ids, nil
}

// Invalidate drops the cached list so the next lookup reloads it
func (l *CachedLookup) Invalidate(ctx context.Context, ownerID string) error {
	return l.store.Delete(ctx, Key(ownerID))
}
