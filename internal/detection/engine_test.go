package detection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/amlstream/pkg/models"
)

type stubDetector struct {
	kind       models.PatternType
	confidence float64
	err        error
	panics     bool
}

func (s stubDetector) Type() models.PatternType { return s.kind }

func (s stubDetector) Detect(_ []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.PatternMatch{Confidence: s.confidence, RiskScore: 50}, nil
}

func fixedClock() time.Time { return epoch.Add(24 * time.Hour) }

func findPattern(matches []models.PatternMatch, kind models.PatternType) *models.PatternMatch {
	for i := range matches {
		if matches[i].Type == kind {
			return &matches[i]
		}
	}
	return nil
}

func TestEngine_FailingDetectorsAreIsolated(t *testing.T) {
	var failures []string
	engine := NewEngine(EngineOptions{
		Logger: zaptest.NewLogger(t),
		Detectors: []Detector{
			stubDetector{kind: models.PatternLayering, err: errors.New("bad metadata")},
			stubDetector{kind: models.PatternSmurfing, panics: true},
			stubDetector{kind: models.PatternStructuring, confidence: 0.8},
		},
		Clock:     fixedClock,
		OnFailure: func(name string) { failures = append(failures, name) },
	})

	matches := engine.AnalyzeStream(nil, models.Transaction{ID: "x"})
	require.Len(t, matches, 1)
	assert.Equal(t, models.PatternStructuring, matches[0].Type)
	assert.Equal(t, fixedClock(), matches[0].DetectedAt)
	assert.Zero(t, matches[0].EnsembleBoost)
	assert.ElementsMatch(t, []string{"layering", "smurfing"}, failures)
}

func TestEngine_MalformedMetadataDoesNotSuppressOthers(t *testing.T) {
	var buffer []models.Transaction
	for i := 0; i < 5; i++ {
		buffer = append(buffer, txn(string(rune('a'+i)), models.TransactionTypeDeposit, 9500, time.Duration(i)*10*time.Minute, nil))
	}
	for i := 0; i < 3; i++ {
		buffer = append(buffer, txn(string(rune('p'+i)), models.TransactionTypeTransfer, 100, time.Hour,
			map[string]interface{}{"from": map[string]string{"bad": "shape"}, "to": "B"}))
	}

	var failures []string
	engine := NewEngine(EngineOptions{
		Logger:    zaptest.NewLogger(t),
		OnFailure: func(name string) { failures = append(failures, name) },
	})

	matches := engine.AnalyzeStream(buffer, buffer[len(buffer)-1])
	require.NotNil(t, findPattern(matches, models.PatternStructuring))
	assert.Equal(t, []string{"round_tripping"}, failures)
}

func TestEngine_ThresholdFiltersWeakMatches(t *testing.T) {
	engine := NewEngine(EngineOptions{
		Logger: zaptest.NewLogger(t),
		Detectors: []Detector{
			stubDetector{kind: models.PatternLayering, confidence: 0.59},
			stubDetector{kind: models.PatternSmurfing, confidence: 0.6},
		},
	})

	matches := engine.AnalyzeStream(nil, models.Transaction{})
	require.Len(t, matches, 1)
	assert.Equal(t, models.PatternSmurfing, matches[0].Type)
}

func TestEngine_StructuringThenSweepTriggersEnsemble(t *testing.T) {
	buffer := []models.Transaction{
		txn("d1", models.TransactionTypeDeposit, 9200, 0, nil),
		txn("d2", models.TransactionTypeDeposit, 9200, 40*time.Minute, nil),
		txn("d3", models.TransactionTypeDeposit, 9200, 80*time.Minute, nil),
		txn("d4", models.TransactionTypeDeposit, 9200, 120*time.Minute, nil),
		txn("w1", models.TransactionTypeWithdrawal, 36000, 150*time.Minute, nil),
	}

	var detected []models.PatternType
	engine := NewEngine(EngineOptions{
		Logger:     zaptest.NewLogger(t),
		OnDetected: func(p models.PatternType) { detected = append(detected, p) },
	})
	matches := engine.AnalyzeStream(buffer, buffer[4])

	structuring := findPattern(matches, models.PatternStructuring)
	rapid := findPattern(matches, models.PatternRapidMovement)
	require.NotNil(t, structuring)
	require.NotNil(t, rapid)
	assert.GreaterOrEqual(t, structuring.Confidence, 0.6)
	assert.Greater(t, structuring.EnsembleBoost, 0.0)
	assert.Greater(t, rapid.EnsembleBoost, 0.0)
	assert.Equal(t, len(matches)-1, rapid.CorrelatedPatterns)
	assert.Len(t, detected, len(matches))
}

func TestApplyEnsemble_Idempotent(t *testing.T) {
	matches := []models.PatternMatch{
		{Type: models.PatternStructuring, Confidence: 0.7},
		{Type: models.PatternRapidMovement, Confidence: 0.9},
		{Type: models.PatternSmurfing, Confidence: 0.65},
	}

	once := ApplyEnsemble(matches)
	twice := ApplyEnsemble(once)
	assert.Equal(t, once, twice)

	assert.InDelta(t, 0.9, once[0].Confidence, 1e-9)
	assert.InDelta(t, 1.0, once[1].Confidence, 1e-9)
	assert.InDelta(t, 0.2, once[2].EnsembleBoost, 1e-9)
	assert.Equal(t, 2, once[2].CorrelatedPatterns)

	// input is left untouched
	assert.Zero(t, matches[0].EnsembleBoost)
}

func TestApplyEnsemble_SingleMatchUnchanged(t *testing.T) {
	single := []models.PatternMatch{{Type: models.PatternLayering, Confidence: 0.8}}
	assert.Equal(t, single, ApplyEnsemble(single))
}

func TestEngine_AnalyzeBatch(t *testing.T) {
	var buffer []models.Transaction
	for i := 0; i < 9; i++ {
		buffer = append(buffer, txn(string(rune('a'+i)), models.TransactionTypeDeposit, 100, time.Duration(i)*time.Hour, nil))
	}
	buffer = append(buffer, txn("big", models.TransactionTypeDeposit, 10000, 9*time.Hour+30*time.Minute, nil))

	engine := NewEngine(EngineOptions{Logger: zaptest.NewLogger(t), Clock: fixedClock})
	matches := engine.AnalyzeBatch(buffer)

	anomaly := findPattern(matches, models.PatternStatisticalAnomaly)
	require.NotNil(t, anomaly)
	assert.Equal(t, []string{"big"}, anomaly.Evidence["outliers"])
	assert.Equal(t, fixedClock(), anomaly.DetectedAt)
	assert.NotNil(t, findPattern(matches, models.PatternDistributionAnomaly))

	assert.Empty(t, engine.AnalyzeBatch(buffer[:2]))
}
