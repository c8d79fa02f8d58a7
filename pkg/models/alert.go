package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity grades alerts
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the risk-score contribution of one alert of this severity
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 20
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	default:
		return 0
	}
}

// AlertTypeVelocityExceeded marks alerts raised by the velocity tracker
const AlertTypeVelocityExceeded = "velocity_exceeded"

// VelocityLimits are the fixed bounds of one velocity period
type VelocityLimits struct {
	Window    time.Duration   `json:"window"`
	MaxCount  int64           `json:"max_count"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// Alert is raised by basic monitoring or by the velocity check
type Alert struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Severity     Severity               `json:"severity"`
	Description  string                 `json:"description,omitempty"`
	Period       string                 `json:"period,omitempty"`
	Count        int64                  `json:"count,omitempty"`
	Amount       decimal.Decimal        `json:"amount"`
	Limits       *VelocityLimits        `json:"limits,omitempty"`
	RelatedCases []string               `json:"related_cases,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RiskMetrics is the per-account rolling risk snapshot
type RiskMetrics struct {
	AccountID        string    `json:"account_id"`
	TransactionCount int64     `json:"transaction_count"`
	AlertCount       int64     `json:"alert_count"`
	PatternCount     int64     `json:"pattern_count"`
	RiskScore        float64   `json:"risk_score"`
	LastUpdated      time.Time `json:"last_updated"`
}

// HighRiskEntry is one record in the escalation registry
type HighRiskEntry struct {
	AccountID string      `json:"account_id"`
	AddedAt   time.Time   `json:"added_at"`
	RiskScore float64     `json:"risk_score"`
	Metrics   RiskMetrics `json:"metrics"`
}

// ProcessingStatus is the outcome of one pipeline run
type ProcessingStatus string

const (
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// Result is returned for every processed transaction
type Result struct {
	TransactionID              string           `json:"transaction_id"`
	AccountID                  string           `json:"account_id"`
	ProcessedAt                time.Time        `json:"processed_at"`
	Alerts                     []Alert          `json:"alerts"`
	Patterns                   []PatternMatch   `json:"patterns"`
	Actions                    []string         `json:"actions"`
	RiskScore                  float64          `json:"risk_score"`
	RiskDelta                  float64          `json:"risk_delta"`
	RelatedCases               []string         `json:"related_cases,omitempty"`
	RequiresEnhancedMonitoring bool             `json:"requires_enhanced_monitoring"`
	TookMillis                 float64          `json:"took_ms"`
	Status                     ProcessingStatus `json:"status"`
	Error                      string           `json:"error,omitempty"`
}

// HasFindings reports whether any alert or pattern was produced
func (r *Result) HasFindings() bool {
	return len(r.Alerts) > 0 || len(r.Patterns) > 0
}
