// Package streaming runs the per-transaction AML pipeline: basic monitoring,
// windowed pattern detection, velocity limits, case cross-referencing and
// dynamic risk scoring.
package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlstream/internal/cache"
	"github.com/Aidin1998/amlstream/internal/cases"
	"github.com/Aidin1998/amlstream/internal/detection"
	"github.com/Aidin1998/amlstream/internal/events"
	"github.com/Aidin1998/amlstream/internal/metrics"
	"github.com/Aidin1998/amlstream/internal/monitoring"
	"github.com/Aidin1998/amlstream/internal/streaming/velocity"
	"github.com/Aidin1998/amlstream/internal/streaming/window"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
	"github.com/Aidin1998/amlstream/pkg/validation"
)

const (
	// DefaultPatternThreshold is the confidence a live match needs to be reported
	DefaultPatternThreshold = 0.7
	DefaultSLA              = 100 * time.Millisecond
	DefaultCacheTimeout     = 100 * time.Millisecond
	DefaultCaseTimeout      = 2 * time.Second
	DefaultBatchWorkers     = 8
)

// Options configures a Processor. Store, Monitor and Cases are required;
// every other zero value selects a default.
type Options struct {
	Logger    *zap.Logger
	Store     cache.Store
	Monitor   monitoring.Monitor
	Cases     cases.Lookup
	Sink      events.Sink
	Engine    *detection.Engine
	Validator *validation.Validator
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
	Clock     func() time.Time

	Window           window.Config
	Periods          []velocity.Period
	Risk             RiskOptions
	PatternThreshold float64
	SLA              time.Duration
	CacheTimeout     time.Duration
	CaseTimeout      time.Duration
	BatchWorkers     int
}

// Processor evaluates transactions one at a time per account and in
// parallel across accounts
type Processor struct {
	logger    *zap.Logger
	monitor   monitoring.Monitor
	cases     cases.Lookup
	sink      events.Sink
	engine    *detection.Engine
	validator *validation.Validator
	metrics   *metrics.Collector
	tracer    trace.Tracer
	clock     func() time.Time

	window   *window.Window
	velocity *velocity.Tracker
	risk     *riskBook
	locks    *accountLocks

	patternThreshold float64
	sla              time.Duration
	cacheTimeout     time.Duration
	caseTimeout      time.Duration
	batchWorkers     int
}

// NewProcessor creates a new Processor
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("streaming: cache store is required")
	}
	if opts.Monitor == nil {
		return nil, fmt.Errorf("streaming: monitor is required")
	}
	if opts.Cases == nil {
		return nil, fmt.Errorf("streaming: case lookup is required")
	}

	p := &Processor{
		logger:           opts.Logger,
		monitor:          opts.Monitor,
		cases:            opts.Cases,
		sink:             opts.Sink,
		engine:           opts.Engine,
		validator:        opts.Validator,
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
		clock:            opts.Clock,
		window:           window.New(opts.Store, opts.Window),
		velocity:         velocity.NewTracker(opts.Store, opts.Periods),
		risk:             newRiskBook(opts.Store, opts.Risk),
		locks:            newAccountLocks(),
		patternThreshold: opts.PatternThreshold,
		sla:              opts.SLA,
		cacheTimeout:     opts.CacheTimeout,
		caseTimeout:      opts.CaseTimeout,
		batchWorkers:     opts.BatchWorkers,
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.metrics == nil {
		p.metrics = metrics.New(prometheus.NewRegistry())
	}
	if p.sink == nil {
		p.sink = events.NewLogSink(p.logger)
	}
	if p.validator == nil {
		p.validator = validation.NewValidator(p.logger)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/Aidin1998/amlstream/internal/streaming")
	}
	if p.engine == nil {
		p.engine = detection.NewEngine(detection.EngineOptions{
			Logger:    p.logger,
			Clock:     p.clock,
			OnFailure: p.metrics.DetectorFailed,
			OnDetected: func(t models.PatternType) {
				p.metrics.PatternDetected(string(t))
			},
		})
	}
	if p.patternThreshold <= 0 {
		p.patternThreshold = DefaultPatternThreshold
	}
	if p.sla <= 0 {
		p.sla = DefaultSLA
	}
	if p.cacheTimeout <= 0 {
		p.cacheTimeout = DefaultCacheTimeout
	}
	if p.caseTimeout <= 0 {
		p.caseTimeout = DefaultCaseTimeout
	}
	if p.batchWorkers <= 0 {
		p.batchWorkers = DefaultBatchWorkers
	}
	return p, nil
}

// ProcessTransaction runs the full pipeline for txn. It never retries; any
// collaborator failure yields Status failed with the error message set.
// Cancelling ctx does not abort a pipeline that has started; each store call
// is bounded by its own timeout instead.
func (p *Processor) ProcessTransaction(ctx context.Context, txn models.Transaction) *models.Result {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "streaming.ProcessTransaction",
		trace.WithAttributes(
			attribute.String("transaction.id", txn.ID),
			attribute.String("account.id", txn.AccountID),
		))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	result := &models.Result{
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		ProcessedAt:   p.clock().UTC(),
		Alerts:        []models.Alert{},
		Patterns:      []models.PatternMatch{},
		Actions:       []string{},
		Status:        models.StatusProcessed,
	}

	escalation, err := p.run(ctx, txn, result)
	if err != nil {
		result.Status = models.StatusFailed
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("Stream processing failed",
			zap.String("transaction_id", txn.ID),
			zap.String("account_id", txn.AccountID),
			zap.String("kind", apperrors.KindOf(err)),
			zap.Error(err))
	}

	took := time.Since(start)
	result.TookMillis = float64(took.Microseconds()) / 1000
	if took > p.sla {
		p.metrics.SLABreached()
		p.logger.Warn("Slow transaction processing",
			zap.String("transaction_id", txn.ID),
			zap.Float64("processing_time_ms", result.TookMillis))
	}

	for _, a := range result.Alerts {
		p.metrics.AlertRaised(a.Type, string(a.Severity))
	}
	p.metrics.TransactionProcessed(string(result.Status), took)

	span.SetAttributes(
		attribute.Int("alerts", len(result.Alerts)),
		attribute.Int("patterns", len(result.Patterns)),
		attribute.Float64("risk.score", result.RiskScore),
	)

	if result.Status == models.StatusProcessed {
		p.publish(ctx, result, escalation)
	}
	return result
}

// publish runs after the account lock is released so slow sinks never hold
// up the next transaction on the account
func (p *Processor) publish(ctx context.Context, result *models.Result, escalation *EscalationPayload) {
	for _, m := range result.Patterns {
		p.emit(ctx, events.PatternDetected, PatternPayload{
			TransactionID: result.TransactionID,
			AccountID:     result.AccountID,
			Pattern:       m,
		})
	}
	if escalation != nil {
		p.emit(ctx, events.HighRiskEscalated, *escalation)
	}
	if result.HasFindings() {
		p.emit(ctx, events.RealtimeAlertGenerated, newAlertPayload(result))
	}
}

// run holds the account lock only around the window, velocity and risk
// read-modify-write. The case lookup runs before it; events go out after it.
func (p *Processor) run(ctx context.Context, txn models.Transaction, result *models.Result) (*EscalationPayload, error) {
	if err := p.validator.ValidateTransaction(txn); err != nil {
		return nil, err
	}
	txn.Type = models.ParseTransactionType(string(txn.Type))

	mon, err := p.monitor.Evaluate(ctx, txn)
	if err != nil {
		return nil, apperrors.Monitor.Explain("evaluate %s", txn.ID).Wrap(err)
	}
	result.Alerts = append(result.Alerts, mon.Alerts...)
	result.Actions = append(result.Actions, mon.Actions...)

	related, err := p.openCases(ctx, txn)
	if err != nil {
		return nil, err
	}

	unlock := p.locks.lock(txn.AccountID)
	defer unlock()

	buffer := p.appendToWindow(ctx, txn)
	result.Patterns = append(result.Patterns, p.detect(buffer, txn)...)
	result.Alerts = append(result.Alerts, p.velocityAlerts(ctx, txn)...)
	crossReference(result, related)

	return p.updateRisk(ctx, txn, result)
}

func (p *Processor) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cacheTimeout)
}

// appendToWindow degrades to whatever buffer could be computed when the
// store is unavailable
func (p *Processor) appendToWindow(ctx context.Context, txn models.Transaction) []models.Transaction {
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()

	buffer, err := p.window.Append(cctx, txn.AccountID, txn)
	if err != nil {
		p.metrics.Degraded("window")
		p.logger.Warn("Sliding window degraded",
			zap.String("transaction_id", txn.ID),
			zap.String("account_id", txn.AccountID),
			zap.Error(err))
	}
	return buffer
}

func (p *Processor) detect(buffer []models.Transaction, txn models.Transaction) []models.PatternMatch {
	var kept []models.PatternMatch
	for _, m := range p.engine.AnalyzeStream(buffer, txn) {
		if m.Confidence < p.patternThreshold {
			continue
		}
		kept = append(kept, m)
		p.logger.Info("Pattern detected in stream",
			zap.String("transaction_id", txn.ID),
			zap.String("account_id", txn.AccountID),
			zap.String("pattern", string(m.Type)),
			zap.Float64("confidence", m.Confidence),
			zap.Float64("risk_score", m.RiskScore))
	}
	return kept
}

func (p *Processor) velocityAlerts(ctx context.Context, txn models.Transaction) []models.Alert {
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()

	checks, err := p.velocity.CheckAll(cctx, txn.AccountID, txn.Amount)
	if err != nil {
		p.metrics.Degraded("velocity")
		p.logger.Warn("Velocity check degraded",
			zap.String("transaction_id", txn.ID),
			zap.String("account_id", txn.AccountID),
			zap.Error(err))
	}

	alerts := make([]models.Alert, 0, len(checks))
	for _, c := range checks {
		alerts = append(alerts, models.Alert{
			ID:          uuid.NewString(),
			Type:        models.AlertTypeVelocityExceeded,
			Severity:    c.Severity,
			Description: fmt.Sprintf("Velocity limit exceeded over %s", c.Period.Name),
			Period:      c.Period.Name,
			Count:       c.Count,
			Amount:      c.Amount,
			Limits:      c.Period.Limits(),
		})
	}
	return alerts
}

// openCases loads the owner's ongoing cases. A miss on the case cache goes to
// the database, so it gets caseTimeout rather than the cache budget.
func (p *Processor) openCases(ctx context.Context, txn models.Transaction) ([]string, error) {
	if txn.OwnerID == "" {
		return nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.caseTimeout)
	defer cancel()

	ids, err := p.cases.OpenCasesFor(cctx, txn.OwnerID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.CaseLookup.Explain("owner %s", txn.OwnerID).Wrap(err)
		}
		return nil, err
	}
	return ids, nil
}

// crossReference annotates the result and every alert with the owner's
// open cases
func crossReference(result *models.Result, ids []string) {
	if len(ids) == 0 {
		return
	}
	result.RelatedCases = ids
	result.RequiresEnhancedMonitoring = true
	for i := range result.Alerts {
		result.Alerts[i].RelatedCases = ids
	}
}

// updateRisk persists the new snapshot and, past the threshold, records the
// account in the registry. The escalation event is returned for publishing.
func (p *Processor) updateRisk(ctx context.Context, txn models.Transaction, result *models.Result) (*EscalationPayload, error) {
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()

	prev, _, err := p.risk.snapshot(cctx, txn.AccountID)
	if err != nil {
		p.metrics.Degraded("risk_snapshot")
		p.logger.Warn("Risk snapshot read degraded",
			zap.String("account_id", txn.AccountID),
			zap.Error(err))
	}

	now := p.clock().UTC()
	next, err := p.risk.update(cctx, prev, result.Alerts, result.Patterns, now)
	result.RiskScore = next.RiskScore
	result.RiskDelta = next.RiskScore - prev.RiskScore
	if err != nil {
		return nil, err
	}

	if !p.risk.shouldEscalate(next) {
		return nil, nil
	}

	p.logger.Warn("High risk account detected",
		zap.String("account_id", txn.AccountID),
		zap.Float64("risk_score", next.RiskScore),
		zap.Int64("transaction_count", next.TransactionCount),
		zap.Int64("alert_count", next.AlertCount),
		zap.Int64("pattern_count", next.PatternCount))

	size, err := p.risk.escalate(cctx, next, now)
	if err != nil {
		p.metrics.Degraded("high_risk_registry")
		p.logger.Error("Failed to record high risk account",
			zap.String("account_id", txn.AccountID),
			zap.Error(err))
		return nil, nil
	}
	p.metrics.Escalated(size)
	return &EscalationPayload{
		HighRiskEntry: models.HighRiskEntry{
			AccountID: next.AccountID,
			AddedAt:   now,
			RiskScore: next.RiskScore,
			Metrics:   next,
		},
		TransactionID: txn.ID,
	}, nil
}

// emit never fails the pipeline
func (p *Processor) emit(ctx context.Context, name string, payload interface{}) {
	if err := p.sink.Emit(ctx, name, payload); err != nil {
		p.metrics.Degraded("events")
		p.logger.Warn("Failed to emit event",
			zap.String("event", name),
			zap.Error(err))
	}
}

// RiskSnapshot returns the stored metrics for an account. found is false when
// the account has no snapshot yet.
func (p *Processor) RiskSnapshot(ctx context.Context, accountID string) (models.RiskMetrics, bool, error) {
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()
	return p.risk.snapshot(cctx, accountID)
}

// HighRiskAccounts returns the escalation registry, highest score first
func (p *Processor) HighRiskAccounts(ctx context.Context) ([]models.HighRiskEntry, error) {
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()
	return p.risk.highRisk(cctx)
}
