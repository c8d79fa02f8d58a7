package streaming

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/amlstream/internal/events"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// BatchResult holds the per-transaction results of a batch and the batch-only
// patterns found for each account
type BatchResult struct {
	Results    map[string]*models.Result        `json:"results"`
	Patterns   map[string][]models.PatternMatch `json:"patterns"`
	TookMillis float64                          `json:"took_ms"`
}

// ProcessBatch replays the pipeline for every transaction in timestamp order.
// Accounts run in parallel on a bounded worker pool; each account's
// transactions run sequentially. Batch analyses then run per account and
// their failures are logged, never returned. Like single transactions, a
// started batch runs to completion when ctx is cancelled.
func (p *Processor) ProcessBatch(ctx context.Context, txns []models.Transaction) *BatchResult {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "streaming.ProcessBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(txns))))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	accounts, byAccount := groupByAccount(txns)

	out := &BatchResult{
		Results:  make(map[string]*models.Result, len(txns)),
		Patterns: make(map[string][]models.PatternMatch),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.batchWorkers)
	for _, accountID := range accounts {
		accountTxns := byAccount[accountID]
		g.Go(func() error {
			for _, txn := range accountTxns {
				r := p.ProcessTransaction(ctx, txn)
				mu.Lock()
				out.Results[txn.ID] = r
				mu.Unlock()
			}
			return nil
		})
	}
	// workers only collect results and never fail
	g.Wait()

	for _, accountID := range accounts {
		accountTxns := byAccount[accountID]
		patterns := p.engine.AnalyzeBatch(accountTxns)
		if len(patterns) == 0 {
			continue
		}
		out.Patterns[accountID] = patterns
		p.handleBatchPatterns(ctx, accountID, len(accountTxns), patterns)
	}

	took := time.Since(start)
	out.TookMillis = float64(took.Microseconds()) / 1000
	p.metrics.BatchProcessed(len(txns))

	p.logger.Info("Batch processed",
		zap.Int("transactions", len(txns)),
		zap.Int("accounts", len(accounts)),
		zap.Int("accounts_with_patterns", len(out.Patterns)),
		zap.Float64("processing_time_ms", out.TookMillis))
	return out
}

func (p *Processor) handleBatchPatterns(ctx context.Context, accountID string, txnCount int, patterns []models.PatternMatch) {
	for _, m := range patterns {
		p.logger.Info("Batch pattern detected",
			zap.String("account_id", accountID),
			zap.String("pattern", string(m.Type)),
			zap.Float64("confidence", m.Confidence),
			zap.Int("transaction_count", txnCount))
		p.emit(ctx, events.BatchPatternDetected, BatchPatternPayload{
			AccountID:        accountID,
			Pattern:          m,
			TransactionCount: txnCount,
		})
	}
}

// groupByAccount sorts a copy of txns by timestamp, keeping input order for
// ties, and splits it by account. accounts lists ids in first-seen order.
func groupByAccount(txns []models.Transaction) (accounts []string, byAccount map[string][]models.Transaction) {
	sorted := make([]models.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	byAccount = make(map[string][]models.Transaction)
	for _, txn := range sorted {
		if _, ok := byAccount[txn.AccountID]; !ok {
			accounts = append(accounts, txn.AccountID)
		}
		byAccount[txn.AccountID] = append(byAccount[txn.AccountID], txn)
	}
	return accounts, byAccount
}
