package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired keys are dropped lazily on read
// and in bulk on every write using an expiry-ordered index.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	expiry  *btree.Map[string, string]
	clock   func() time.Time
}

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		expiry:  btree.NewMap[string, string](32),
		clock:   clock,
	}
}

// expiryKey sorts by deadline first; nanosecond stamps are zero padded
func expiryKey(at time.Time, key string) string {
	return fmt.Sprintf("%020d|%s", at.UnixNano(), key)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: ttl must be positive for %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.put(key, stored, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
	return nil
}

func (s *MemoryStore) IncrementCounter(_ context.Context, key string, amount decimal.Decimal, ttl time.Duration) (Counter, error) {
	if ttl <= 0 {
		return Counter{}, fmt.Errorf("cache: ttl must be positive for %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counter
	if e, ok := s.lookup(key); ok {
		if err := json.Unmarshal(e.value, &c); err != nil {
			return Counter{}, fmt.Errorf("cache: %s does not hold a counter: %w", key, err)
		}
	}
	c.Count++
	c.Amount = c.Amount.Add(amount)

	data, err := json.Marshal(c)
	if err != nil {
		return Counter{}, err
	}
	s.put(key, data, ttl)
	return c, nil
}

func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.clock().Before(e.expiresAt) {
		s.remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	s.remove(key)
	at := s.clock().Add(ttl)
	s.entries[key] = memoryEntry{value: value, expiresAt: at}
	s.expiry.Set(expiryKey(at, key), key)
	s.sweep()
}

func (s *MemoryStore) remove(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	s.expiry.Delete(expiryKey(e.expiresAt, key))
}

// sweep drops every entry whose deadline has passed
func (s *MemoryStore) sweep() {
	now := s.clock().UnixNano()
	var stale []string
	s.expiry.Scan(func(idx, key string) bool {
		if e, ok := s.entries[key]; ok && e.expiresAt.UnixNano() > now {
			return false
		}
		stale = append(stale, idx)
		return true
	})
	for _, idx := range stale {
		if key, ok := s.expiry.Delete(idx); ok {
			if e, live := s.entries[key]; live && expiryKey(e.expiresAt, key) == idx {
				delete(s.entries, key)
			}
		}
	}
}
