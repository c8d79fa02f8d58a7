// Package velocity counts per-account transactions and amounts over fixed
// periods and grades how far an account is over its limits.
package velocity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/amlstream/internal/cache"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// Period is one velocity window with its limits
type Period struct {
	Name      string
	Window    time.Duration
	MaxCount  int64
	MaxAmount decimal.Decimal
}

// Limits converts the period bounds for alert payloads
func (p Period) Limits() *models.VelocityLimits {
	return &models.VelocityLimits{Window: p.Window, MaxCount: p.MaxCount, MaxAmount: p.MaxAmount}
}

// DefaultPeriods returns the 1min, 5min and 1hour limits
func DefaultPeriods() []Period {
	return []Period{
		{Name: "1min", Window: time.Minute, MaxCount: 5, MaxAmount: decimal.NewFromInt(10000)},
		{Name: "5min", Window: 5 * time.Minute, MaxCount: 10, MaxAmount: decimal.NewFromInt(25000)},
		{Name: "1hour", Window: time.Hour, MaxCount: 30, MaxAmount: decimal.NewFromInt(100000)},
	}
}

// Check is the state of one period after recording a transaction
type Check struct {
	Period   Period
	Count    int64
	Amount   decimal.Decimal
	Exceeded bool
	Severity models.Severity
}

// Tracker records transactions against every configured period
type Tracker struct {
	store   cache.Store
	periods []Period
}

// NewTracker creates a Tracker. An empty period list selects the defaults.
func NewTracker(store cache.Store, periods []Period) *Tracker {
	if len(periods) == 0 {
		periods = DefaultPeriods()
	}
	return &Tracker{store: store, periods: periods}
}

// Key is the cache key of an account's counter for a period
func Key(accountID, period string) string {
	return "velocity:" + accountID + ":" + period
}

// RecordAndCheck increments the period counter and reports whether the account
// is over either limit. The counter's TTL restarts with every write.
func (t *Tracker) RecordAndCheck(ctx context.Context, accountID string, amount decimal.Decimal, p Period) (Check, error) {
	c, err := t.store.IncrementCounter(ctx, Key(accountID, p.Name), amount, p.Window)
	if err != nil {
		return Check{Period: p, Severity: models.SeverityLow}, apperrors.Cache.Explain("velocity %s for %s", p.Name, accountID).Wrap(err)
	}

	exceeded := c.Count > p.MaxCount || c.Amount.GreaterThan(p.MaxAmount)
	return Check{
		Period:   p,
		Count:    c.Count,
		Amount:   c.Amount,
		Exceeded: exceeded,
		Severity: Severity(c.Count, c.Amount, p),
	}, nil
}

// CheckAll records the transaction in every period and returns the periods
// whose limits are exceeded. Periods whose counter cannot be updated are
// treated as not exceeded; the first such error is returned alongside.
func (t *Tracker) CheckAll(ctx context.Context, accountID string, amount decimal.Decimal) ([]Check, error) {
	var (
		exceeded []Check
		firstErr error
	)
	for _, p := range t.periods {
		c, err := t.RecordAndCheck(ctx, accountID, amount, p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if c.Exceeded {
			exceeded = append(exceeded, c)
		}
	}
	return exceeded, firstErr
}

// Severity grades the larger of the count and amount ratios against the limits
func Severity(count int64, amount decimal.Decimal, p Period) models.Severity {
	ratio := 0.0
	if p.MaxCount > 0 {
		ratio = float64(count) / float64(p.MaxCount)
	}
	if p.MaxAmount.IsPositive() {
		if r := amount.Div(p.MaxAmount).InexactFloat64(); r > ratio {
			ratio = r
		}
	}

	switch {
	case ratio > 2:
		return models.SeverityCritical
	case ratio > 1.5:
		return models.SeverityHigh
	case ratio >= 1.2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
