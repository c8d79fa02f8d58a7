package streaming

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/amlstream/internal/cache"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
)

const (
	DefaultEscalationThreshold = 75.0
	DefaultRegistrySize        = 1000
	DefaultSnapshotTTL         = 24 * time.Hour

	// HighRiskKey holds the escalation registry
	HighRiskKey = "high_risk_accounts"

	maxRiskScore      = 100.0
	alertRatioWeight  = 30.0
	patternCountStep  = 10.0
	patternCountLimit = 30.0
)

// RiskKey is the cache key of an account's risk snapshot
func RiskKey(accountID string) string {
	return "risk_metrics:" + accountID
}

// RiskOptions configures snapshot persistence and escalation
type RiskOptions struct {
	EscalationThreshold float64       `mapstructure:"escalation_threshold"`
	RegistrySize        int           `mapstructure:"high_risk_registry_size"`
	SnapshotTTL         time.Duration `mapstructure:"snapshot_ttl"`
}

// DefaultRiskOptions returns a 75 point threshold, 1000 entries and a 24h TTL
func DefaultRiskOptions() RiskOptions {
	return RiskOptions{
		EscalationThreshold: DefaultEscalationThreshold,
		RegistrySize:        DefaultRegistrySize,
		SnapshotTTL:         DefaultSnapshotTTL,
	}
}

// riskBook persists per-account snapshots and the shared high-risk registry.
// Snapshot writes are serialized by the caller's account lock; the registry
// is shared by every account and has its own mutex.
type riskBook struct {
	store cache.Store
	opts  RiskOptions

	registryMu sync.Mutex
}

func newRiskBook(store cache.Store, opts RiskOptions) *riskBook {
	def := DefaultRiskOptions()
	if opts.EscalationThreshold <= 0 {
		opts.EscalationThreshold = def.EscalationThreshold
	}
	if opts.RegistrySize <= 0 {
		opts.RegistrySize = def.RegistrySize
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = def.SnapshotTTL
	}
	return &riskBook{store: store, opts: opts}
}

// snapshot loads the account's metrics; a missing snapshot is the zero value
func (b *riskBook) snapshot(ctx context.Context, accountID string) (models.RiskMetrics, bool, error) {
	m := models.RiskMetrics{AccountID: accountID}
	found, err := cache.GetJSON(ctx, b.store, RiskKey(accountID), &m)
	if err != nil {
		return models.RiskMetrics{AccountID: accountID}, false, apperrors.Cache.Explain("read risk snapshot for %s", accountID).Wrap(err)
	}
	return m, found, nil
}

// update folds one processed transaction into the snapshot, rescores it and
// persists it. prev is the snapshot before the update.
func (b *riskBook) update(ctx context.Context, prev models.RiskMetrics, alerts []models.Alert, patterns []models.PatternMatch, now time.Time) (models.RiskMetrics, error) {
	next := prev
	next.TransactionCount++
	next.AlertCount += int64(len(alerts))
	next.PatternCount += int64(len(patterns))
	next.RiskScore = riskScore(next, alerts, patterns)
	next.LastUpdated = now

	if err := cache.SetJSON(ctx, b.store, RiskKey(next.AccountID), next, b.opts.SnapshotTTL); err != nil {
		return next, apperrors.Cache.Explain("persist risk snapshot for %s", next.AccountID).Wrap(err)
	}
	return next, nil
}

func (b *riskBook) shouldEscalate(m models.RiskMetrics) bool {
	return m.RiskScore > b.opts.EscalationThreshold
}

// escalate records the account in the registry, evicting the lowest scores
// once the registry is full. It returns the registry size after the write.
func (b *riskBook) escalate(ctx context.Context, m models.RiskMetrics, now time.Time) (int, error) {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()

	registry, err := b.loadRegistry(ctx)
	if err != nil {
		return 0, err
	}

	registry[m.AccountID] = models.HighRiskEntry{
		AccountID: m.AccountID,
		AddedAt:   now,
		RiskScore: m.RiskScore,
		Metrics:   m,
	}
	evictLowest(registry, b.opts.RegistrySize)

	if err := cache.SetJSON(ctx, b.store, HighRiskKey, registry, b.opts.SnapshotTTL); err != nil {
		return len(registry), apperrors.Cache.Explain("persist high-risk registry").Wrap(err)
	}
	return len(registry), nil
}

// highRisk returns the registry ordered by descending score
func (b *riskBook) highRisk(ctx context.Context) ([]models.HighRiskEntry, error) {
	b.registryMu.Lock()
	registry, err := b.loadRegistry(ctx)
	b.registryMu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make([]models.HighRiskEntry, 0, len(registry))
	for _, e := range registry {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RiskScore != entries[j].RiskScore {
			return entries[i].RiskScore > entries[j].RiskScore
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	return entries, nil
}

func (b *riskBook) loadRegistry(ctx context.Context) (map[string]models.HighRiskEntry, error) {
	registry := make(map[string]models.HighRiskEntry)
	if _, err := cache.GetJSON(ctx, b.store, HighRiskKey, &registry); err != nil {
		return nil, apperrors.Cache.Explain("read high-risk registry").Wrap(err)
	}
	if registry == nil {
		registry = make(map[string]models.HighRiskEntry)
	}
	return registry, nil
}

// evictLowest drops entries until at most limit remain. Lower scores go
// first, then older entries, then account id order.
func evictLowest(registry map[string]models.HighRiskEntry, limit int) {
	if len(registry) <= limit {
		return
	}
	entries := make([]models.HighRiskEntry, 0, len(registry))
	for _, e := range registry {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore < b.RiskScore
		}
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return a.AccountID < b.AccountID
	})
	for _, e := range entries[:len(entries)-limit] {
		delete(registry, e.AccountID)
	}
}

// riskScore combines the account's alert ratio and pattern history with the
// findings of the current transaction, capped at 100
func riskScore(m models.RiskMetrics, alerts []models.Alert, patterns []models.PatternMatch) float64 {
	score := 0.0
	if m.TransactionCount > 0 {
		score += float64(m.AlertCount) / float64(m.TransactionCount) * alertRatioWeight
	}
	score += math.Min(float64(m.PatternCount)*patternCountStep, patternCountLimit)

	for _, a := range alerts {
		score += a.Severity.Weight()
	}
	for _, p := range patterns {
		score += p.RiskScore * p.Confidence
	}
	return math.Min(score, maxRiskScore)
}
