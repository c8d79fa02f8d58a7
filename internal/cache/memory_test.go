package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemoryStore(clock.Now)

	require.NoError(t, s.Set(ctx, "a", []byte("hello"), time.Minute))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	clock.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_OverwriteRefreshesDeadline(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemoryStore(clock.Now)

	require.NoError(t, s.Set(ctx, "k", []byte("1"), time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, s.Set(ctx, "k", []byte("2"), time.Minute))
	clock.Advance(50 * time.Second)

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(v))
}

// storedKeys counts entries still held, expired or not
func storedKeys(s *MemoryStore) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestMemoryStore_SweepOnWrite(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemoryStore(clock.Now)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("short-%d", i), []byte("x"), time.Second))
	}
	require.NoError(t, s.Set(ctx, "long", []byte("x"), time.Hour))
	assert.Equal(t, 11, storedKeys(s))

	clock.Advance(2 * time.Second)
	require.NoError(t, s.Set(ctx, "other", []byte("x"), time.Hour))
	assert.Equal(t, 2, storedKeys(s))
}

func TestMemoryStore_IncrementCounter(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemoryStore(clock.Now)

	var c Counter
	var err error
	for i := 0; i < 3; i++ {
		c, err = s.IncrementCounter(ctx, "velocity:acc:1min", decimal.RequireFromString("2.50"), time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), c.Count)
	assert.True(t, decimal.RequireFromString("7.5").Equal(c.Amount))

	clock.Advance(time.Minute)
	c, err = s.IncrementCounter(ctx, "velocity:acc:1min", decimal.NewFromInt(1), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
}

func TestMemoryStore_CounterOnPlainValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Set(ctx, "k", []byte("not json"), time.Minute))

	_, err := s.IncrementCounter(ctx, "k", decimal.NewFromInt(1), time.Minute)
	assert.Error(t, err)
}

func TestMemoryStore_RejectsNonPositiveTTL(t *testing.T) {
	s := NewMemoryStore(nil)
	assert.Error(t, s.Set(context.Background(), "k", nil, 0))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	type snapshot struct {
		Score float64 `json:"score"`
	}
	require.NoError(t, SetJSON(ctx, s, "risk", snapshot{Score: 42}, time.Hour))

	var got snapshot
	found, err := GetJSON(ctx, s, "risk", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 42.0, got.Score)

	found, err = GetJSON(ctx, s, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.IncrementCounter(ctx, "c", decimal.NewFromInt(1), time.Minute)
		}()
	}
	wg.Wait()

	c, err := s.IncrementCounter(ctx, "c", decimal.Zero, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), c.Count)
	assert.True(t, decimal.NewFromInt(50).Equal(c.Amount))
}
