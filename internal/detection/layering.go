package detection

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// LayeringDetector looks for balanced in/out flows spread over many counterparties
type LayeringDetector struct {
	MinDeposits          int
	MinWithdrawals       int
	MinCounterparties    int
	MinRoutingPaths      int
	BalanceTolerance     float64
	TransferInflowFactor float64
}

func NewLayeringDetector() *LayeringDetector {
	return &LayeringDetector{
		MinDeposits:          2,
		MinWithdrawals:       2,
		MinCounterparties:    4,
		MinRoutingPaths:      3,
		BalanceTolerance:     0.1,
		TransferInflowFactor: 0.5,
	}
}

func (d *LayeringDetector) Type() models.PatternType { return models.PatternLayering }

func (d *LayeringDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	deposits := filter(buffer, ofType(models.TransactionTypeDeposit))
	withdrawals := filter(buffer, ofType(models.TransactionTypeWithdrawal))
	transfers := filter(buffer, ofType(models.TransactionTypeTransfer))

	if len(deposits) < d.MinDeposits || len(withdrawals) < d.MinWithdrawals {
		return nil, nil
	}

	totalIn := sumAmounts(deposits)
	totalOut := sumAmounts(withdrawals)
	totalTransfers := sumAmounts(transfers)

	confidence := 0.0

	flowBalance := 1.0
	if larger := decimal.Max(totalIn, totalOut); larger.IsPositive() {
		flowBalance = totalIn.Sub(totalOut).Abs().Div(larger).InexactFloat64()
	}
	if flowBalance < d.BalanceTolerance {
		confidence += 0.35
	}

	if totalTransfers.GreaterThan(totalIn.Mul(decimal.NewFromFloat(d.TransferInflowFactor))) {
		confidence += 0.25
	}

	counterparties, err := distinctCounterparties(buffer)
	if err != nil {
		return nil, err
	}
	if len(counterparties) >= d.MinCounterparties {
		confidence += 0.2
	}

	paths, err := distinctRoutingPaths(buffer)
	if err != nil {
		return nil, err
	}
	if len(paths) >= d.MinRoutingPaths {
		confidence += 0.2
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternLayering,
		Confidence:  confidence,
		Description: "Potential layering: Complex fund movement patterns detected",
		RiskScore:   riskScore(confidence, 85),
		Evidence: models.Evidence{
			"total_in":       totalIn.String(),
			"total_out":      totalOut.String(),
			"flow_balance":   flowBalance,
			"counterparties": len(counterparties),
			"routing_paths":  len(paths),
			"transaction_types": map[string]int{
				"deposits":    len(deposits),
				"withdrawals": len(withdrawals),
				"transfers":   len(transfers),
			},
		},
	}, nil
}

func sumAmounts(txns []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		total = total.Add(t.Amount)
	}
	return total
}

func distinctCounterparties(buffer []models.Transaction) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, t := range buffer {
		for _, key := range []string{models.MetaCounterparty, models.MetaDestinationAccount} {
			v, ok, err := t.MetaString(key)
			if err != nil {
				return nil, err
			}
			if ok {
				set[v] = struct{}{}
			}
		}
	}
	return set, nil
}

// distinctRoutingPaths accepts a routing path as a string or a list of hops
func distinctRoutingPaths(buffer []models.Transaction) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, t := range buffer {
		raw, ok := t.Metadata[models.MetaRoutingPath]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			set[v] = struct{}{}
		case []string:
			set[strings.Join(v, ">")] = struct{}{}
		case []interface{}:
			hops := make([]string, len(v))
			for i, h := range v {
				hops[i] = fmt.Sprint(h)
			}
			set[strings.Join(hops, ">")] = struct{}{}
		default:
			return nil, fmt.Errorf("%w: %s has type %T", models.ErrMalformedMetadata, models.MetaRoutingPath, raw)
		}
	}
	return set, nil
}
