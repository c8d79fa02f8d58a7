package detection

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// DefaultConfidenceThreshold is the engine-level cut for live and batch matches
const DefaultConfidenceThreshold = 0.6

// EngineOptions configures an Engine. Zero values select the defaults.
type EngineOptions struct {
	Logger     *zap.Logger
	Detectors  []Detector
	Analyzers  []BatchAnalyzer
	Threshold  float64
	Clock      func() time.Time
	OnFailure  func(detector string)
	OnDetected func(pattern models.PatternType)
}

// Engine runs the live detectors and batch analyses. One detector failing,
// by error or panic, never hides the results of the others.
type Engine struct {
	logger     *zap.Logger
	detectors  []Detector
	analyzers  []BatchAnalyzer
	threshold  float64
	clock      func() time.Time
	onFailure  func(string)
	onDetected func(models.PatternType)
}

// NewEngine creates a new Engine
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		logger:     opts.Logger,
		detectors:  opts.Detectors,
		analyzers:  opts.Analyzers,
		threshold:  opts.Threshold,
		clock:      opts.Clock,
		onFailure:  opts.OnFailure,
		onDetected: opts.OnDetected,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.detectors == nil {
		e.detectors = DefaultDetectors()
	}
	if e.analyzers == nil {
		e.analyzers = DefaultBatchAnalyzers()
	}
	if e.threshold <= 0 {
		e.threshold = DefaultConfidenceThreshold
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.onFailure == nil {
		e.onFailure = func(string) {}
	}
	if e.onDetected == nil {
		e.onDetected = func(models.PatternType) {}
	}
	return e
}

// AnalyzeStream evaluates the buffer after current arrived and returns the
// ensemble-scored matches at or above the engine threshold.
func (e *Engine) AnalyzeStream(buffer []models.Transaction, current models.Transaction) []models.PatternMatch {
	now := e.clock()

	var matches []models.PatternMatch
	for _, d := range e.detectors {
		m, err := e.runDetector(d, buffer, current)
		if err != nil {
			e.onFailure(string(d.Type()))
			e.logger.Warn("Pattern detector failed",
				zap.String("detector", string(d.Type())),
				zap.String("transaction_id", current.ID),
				zap.Error(err))
			continue
		}
		if m == nil || m.Confidence < e.threshold {
			continue
		}
		m.Type = d.Type()
		m.DetectedAt = now
		matches = append(matches, *m)
	}

	matches = ApplyEnsemble(matches)
	for _, m := range matches {
		e.onDetected(m.Type)
	}
	return matches
}

func (e *Engine) runDetector(d Detector, buffer []models.Transaction, current models.Transaction) (m *models.PatternMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.Detect(buffer, current)
}

// AnalyzeBatch runs the batch-only analyses over an account's history
func (e *Engine) AnalyzeBatch(txns []models.Transaction) []models.PatternMatch {
	if len(txns) < MinTransactionsForAnalysis {
		return nil
	}
	now := e.clock()

	var matches []models.PatternMatch
	for _, a := range e.analyzers {
		found, err := e.runAnalyzer(a, txns)
		if err != nil {
			e.onFailure(a.Name())
			e.logger.Warn("Batch analysis failed",
				zap.String("analysis", a.Name()),
				zap.Int("transactions", len(txns)),
				zap.Error(err))
			continue
		}
		for _, m := range found {
			if m.Confidence < e.threshold {
				continue
			}
			m.DetectedAt = now
			matches = append(matches, m)
			e.onDetected(m.Type)
		}
	}
	return matches
}

func (e *Engine) runAnalyzer(a BatchAnalyzer, txns []models.Transaction) (found []models.PatternMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			found, err = nil, fmt.Errorf("analysis panic: %v", r)
		}
	}()
	return a.Analyze(txns)
}
