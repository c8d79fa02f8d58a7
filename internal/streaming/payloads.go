package streaming

import (
	"time"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// AlertPayload is the body of a realtime_alert_generated event
type AlertPayload struct {
	TransactionID              string                `json:"transaction_id"`
	AccountID                  string                `json:"account_id"`
	Alerts                     []models.Alert        `json:"alerts"`
	Patterns                   []models.PatternMatch `json:"patterns"`
	Actions                    []string              `json:"actions"`
	RiskScore                  float64               `json:"risk_score"`
	RelatedCases               []string              `json:"related_cases,omitempty"`
	RequiresEnhancedMonitoring bool                  `json:"requires_enhanced_monitoring"`
	ProcessedAt                time.Time             `json:"processed_at"`
}

func (p AlertPayload) PartitionKey() string { return p.AccountID }

func newAlertPayload(r *models.Result) AlertPayload {
	return AlertPayload{
		TransactionID:              r.TransactionID,
		AccountID:                  r.AccountID,
		Alerts:                     r.Alerts,
		Patterns:                   r.Patterns,
		Actions:                    r.Actions,
		RiskScore:                  r.RiskScore,
		RelatedCases:               r.RelatedCases,
		RequiresEnhancedMonitoring: r.RequiresEnhancedMonitoring,
		ProcessedAt:                r.ProcessedAt,
	}
}

// PatternPayload is the body of a pattern_detected event
type PatternPayload struct {
	TransactionID string              `json:"transaction_id"`
	AccountID     string              `json:"account_id"`
	Pattern       models.PatternMatch `json:"pattern"`
}

func (p PatternPayload) PartitionKey() string { return p.AccountID }

// BatchPatternPayload is the body of a batch_pattern_detected event
type BatchPatternPayload struct {
	AccountID        string              `json:"account_id"`
	Pattern          models.PatternMatch `json:"pattern"`
	TransactionCount int                 `json:"transaction_count"`
}

func (p BatchPatternPayload) PartitionKey() string { return p.AccountID }

// EscalationPayload is the body of a high_risk_escalated event
type EscalationPayload struct {
	models.HighRiskEntry
	TransactionID string `json:"transaction_id"`
}

func (p EscalationPayload) PartitionKey() string { return p.AccountID }
