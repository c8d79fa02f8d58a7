package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/amlstream/internal/cache"
	"github.com/Aidin1998/amlstream/pkg/models"
)

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		metrics  models.RiskMetrics
		alerts   []models.Alert
		patterns []models.PatternMatch
		want     float64
	}{
		{
			name:    "no activity",
			metrics: models.RiskMetrics{},
			want:    0,
		},
		{
			name:    "alert ratio",
			metrics: models.RiskMetrics{TransactionCount: 4, AlertCount: 2},
			want:    15,
		},
		{
			name:    "pattern count capped at 30",
			metrics: models.RiskMetrics{TransactionCount: 10, PatternCount: 7},
			want:    30,
		},
		{
			name:    "severity weights",
			metrics: models.RiskMetrics{TransactionCount: 1},
			alerts: []models.Alert{
				{Severity: models.SeverityCritical},
				{Severity: models.SeverityHigh},
				{Severity: models.SeverityLow},
			},
			want: 40,
		},
		{
			name:     "pattern risk weighted by confidence",
			metrics:  models.RiskMetrics{TransactionCount: 1, PatternCount: 1},
			patterns: []models.PatternMatch{{RiskScore: 50, Confidence: 0.5}},
			want:     35,
		},
		{
			name:     "capped at 100",
			metrics:  models.RiskMetrics{TransactionCount: 1, AlertCount: 1, PatternCount: 3},
			patterns: []models.PatternMatch{{RiskScore: 80, Confidence: 1}},
			want:     100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, riskScore(tt.metrics, tt.alerts, tt.patterns), 1e-9)
		})
	}
}

func TestRiskBook_UpdatePersistsSnapshot(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	book := newRiskBook(store, RiskOptions{})
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	prev, found, err := book.snapshot(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, found)

	next, err := book.update(ctx, prev, []models.Alert{{Severity: models.SeverityMedium}}, nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.TransactionCount)
	assert.Equal(t, int64(1), next.AlertCount)
	assert.InDelta(t, 40.0, next.RiskScore, 1e-9)

	stored, found, err := book.snapshot(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, next.TransactionCount, stored.TransactionCount)
	assert.True(t, now.Equal(stored.LastUpdated))
}

func TestRiskBook_EscalationThresholdIsExclusive(t *testing.T) {
	book := newRiskBook(cache.NewMemoryStore(nil), RiskOptions{})
	assert.False(t, book.shouldEscalate(models.RiskMetrics{RiskScore: 75}))
	assert.True(t, book.shouldEscalate(models.RiskMetrics{RiskScore: 75.01}))
}

func TestRiskBook_RegistryEvictsLowestScore(t *testing.T) {
	book := newRiskBook(cache.NewMemoryStore(nil), RiskOptions{RegistrySize: 2})
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	for _, m := range []models.RiskMetrics{
		{AccountID: "a", RiskScore: 90},
		{AccountID: "b", RiskScore: 80},
		{AccountID: "c", RiskScore: 95},
	} {
		_, err := book.escalate(ctx, m, now)
		require.NoError(t, err)
	}

	entries, err := book.highRisk(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].AccountID)
	assert.Equal(t, "a", entries[1].AccountID)

	// re-escalation refreshes the entry instead of adding one
	size, err := book.escalate(ctx, models.RiskMetrics{AccountID: "a", RiskScore: 99}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	entries, err = book.highRisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", entries[0].AccountID)
	assert.Equal(t, 99.0, entries[0].RiskScore)
	assert.True(t, now.Add(time.Hour).Equal(entries[0].AddedAt))
}

func TestEvictLowest_TieBreaksOnAge(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	registry := map[string]models.HighRiskEntry{
		"old": {AccountID: "old", RiskScore: 80, AddedAt: t0},
		"new": {AccountID: "new", RiskScore: 80, AddedAt: t0.Add(time.Minute)},
		"top": {AccountID: "top", RiskScore: 99, AddedAt: t0},
	}

	evictLowest(registry, 2)

	assert.Len(t, registry, 2)
	assert.NotContains(t, registry, "old")
}
