// Package monitoring runs the basic threshold rules that precede pattern
// detection. It stands in for the external transaction monitoring service.
package monitoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// Actions requested by basic monitoring
const (
	ActionFileCTR      = "file_ctr"
	ActionManualReview = "manual_review"
)

// Monitor evaluates a single transaction against basic rules
type Monitor interface {
	Evaluate(ctx context.Context, txn models.Transaction) (Result, error)
}

// Result holds the alerts and follow-up actions from basic monitoring
type Result struct {
	Alerts  []models.Alert `json:"alerts"`
	Actions []string       `json:"actions"`
}

// Rule defines a basic monitoring rule
type Rule struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"` // "aml", "pattern"
	Parameters  map[string]interface{} `json:"parameters"`
	IsActive    bool                   `json:"is_active"`
	Severity    models.Severity        `json:"severity"`
	Action      string                 `json:"action,omitempty"`
	Description string                 `json:"description"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RuleMonitor evaluates the active rule set
type RuleMonitor struct {
	mu    sync.RWMutex
	rules map[string]*Rule

	totalChecks int64
	totalAlerts int64
}

// NewRuleMonitor creates a RuleMonitor with the default AML rules
func NewRuleMonitor() *RuleMonitor {
	m := &RuleMonitor{rules: make(map[string]*Rule)}
	m.initializeDefaultRules()
	return m
}

func (m *RuleMonitor) initializeDefaultRules() {
	now := time.Now()
	defaultRules := []*Rule{
		{
			ID:   "large_transaction",
			Name: "Large Transaction Monitoring",
			Type: "aml",
			Parameters: map[string]interface{}{
				"threshold": 10000.0,
			},
			IsActive:    true,
			Severity:    models.SeverityMedium,
			Action:      ActionFileCTR,
			Description: "Transactions at or above the currency transaction report threshold",
		},
		{
			ID:   "round_amount",
			Name: "Round Amount Detection",
			Type: "pattern",
			Parameters: map[string]interface{}{
				"round_threshold": 1000.0,
			},
			IsActive:    true,
			Severity:    models.SeverityLow,
			Description: "Round-number transfers of at least 1,000",
		},
		{
			ID:          "unknown_type",
			Name:        "Unclassified Transaction Type",
			Type:        "pattern",
			Parameters:  map[string]interface{}{},
			IsActive:    true,
			Severity:    models.SeverityLow,
			Action:      ActionManualReview,
			Description: "Transactions whose type could not be classified",
		},
	}

	for _, rule := range defaultRules {
		rule.CreatedAt = now
		rule.UpdatedAt = now
		m.rules[rule.ID] = rule
	}
}

// Evaluate runs every active rule against txn. A rule with invalid parameters
// fails the whole evaluation.
func (m *RuleMonitor) Evaluate(ctx context.Context, txn models.Transaction) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.RLock()
	active := make([]*Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	m.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	var res Result
	for _, rule := range active {
		alert, err := m.executeRule(rule, txn)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if alert == nil {
			continue
		}
		res.Alerts = append(res.Alerts, *alert)
		if rule.Action != "" {
			res.Actions = appendUnique(res.Actions, rule.Action)
		}
	}

	m.mu.Lock()
	m.totalChecks++
	m.totalAlerts += int64(len(res.Alerts))
	m.mu.Unlock()

	return res, nil
}

func (m *RuleMonitor) executeRule(rule *Rule, txn models.Transaction) (*models.Alert, error) {
	switch rule.ID {
	case "large_transaction":
		threshold, ok := rule.Parameters["threshold"].(float64)
		if !ok {
			return nil, fmt.Errorf("invalid threshold parameter")
		}
		if txn.Amount.GreaterThanOrEqual(decimal.NewFromFloat(threshold)) {
			return newAlert(rule, txn, fmt.Sprintf("Large transaction detected: %s", txn.Amount.String()), map[string]interface{}{
				"threshold": threshold,
			}), nil
		}
	case "round_amount":
		round, ok := rule.Parameters["round_threshold"].(float64)
		if !ok || round <= 0 {
			return nil, fmt.Errorf("invalid round amount parameters")
		}
		amount := txn.AmountFloat()
		if amount >= round && math.Mod(amount, round) == 0 {
			return newAlert(rule, txn, fmt.Sprintf("Round amount transaction: %s", txn.Amount.String()), nil), nil
		}
	case "unknown_type":
		if txn.Type == models.TransactionTypeUnknown {
			return newAlert(rule, txn, "Transaction type could not be classified", nil), nil
		}
	default:
		return nil, fmt.Errorf("unknown rule: %s", rule.ID)
	}
	return nil, nil
}

func newAlert(rule *Rule, txn models.Transaction, description string, meta map[string]interface{}) *models.Alert {
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["rule_id"] = rule.ID
	meta["transaction_id"] = txn.ID
	return &models.Alert{
		ID:          uuid.NewString(),
		Type:        rule.ID,
		Severity:    rule.Severity,
		Description: description,
		Amount:      txn.Amount,
		Metadata:    meta,
	}
}

// AddRule adds or replaces a rule
func (m *RuleMonitor) AddRule(rule *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m.rules[rule.ID] = rule
}

// PerformanceMetrics returns evaluation counters
func (m *RuleMonitor) PerformanceMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_checks": m.totalChecks,
		"total_alerts": m.totalAlerts,
		"active_rules": len(m.rules),
		"alert_rate":   float64(m.totalAlerts) / math.Max(float64(m.totalChecks), 1),
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
