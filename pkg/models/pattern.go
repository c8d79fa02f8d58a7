package models

import "time"

// PatternType identifies a detected typology
type PatternType string

const (
	PatternStructuring   PatternType = "structuring"
	PatternLayering      PatternType = "layering"
	PatternSmurfing      PatternType = "smurfing"
	PatternRapidMovement PatternType = "rapid_movement"
	PatternRoundTripping PatternType = "round_tripping"
	PatternPumpAndDump   PatternType = "pump_and_dump"
	PatternWashTrading   PatternType = "wash_trading"

	// Batch-only analyses
	PatternNetworkConcentration PatternType = "network_concentration"
	PatternCompartmentalization PatternType = "compartmentalization"
	PatternPeriodicActivity     PatternType = "periodic_activity"
	PatternActivityBurst        PatternType = "activity_burst"
	PatternStatisticalAnomaly   PatternType = "statistical_anomaly"
	PatternDistributionAnomaly  PatternType = "distribution_anomaly"
)

// Evidence is the per-pattern supporting data. Keys depend on the pattern type
// and always reference transaction ids or aggregates over them.
type Evidence map[string]interface{}

// PatternMatch is a single confidence-scored detection
type PatternMatch struct {
	Type               PatternType `json:"type"`
	Confidence         float64     `json:"confidence"`
	Description        string      `json:"description"`
	RiskScore          float64     `json:"risk_score"`
	Evidence           Evidence    `json:"evidence"`
	EnsembleBoost      float64     `json:"ensemble_boost,omitempty"`
	CorrelatedPatterns int         `json:"correlated_patterns,omitempty"`
	DetectedAt         time.Time   `json:"detected_at"`
}
