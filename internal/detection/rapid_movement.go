package detection

import (
	"math"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// RapidMovementDetector pairs deposits with withdrawals of similar size that
// follow shortly after. A withdrawal with no direct counterpart may still pair
// with several earlier deposits whose sum it sweeps out.
type RapidMovementDetector struct {
	MaxGap          int64
	VeryRapidGap    int64
	AmountTolerance float64
	MinSwept        int
}

func NewRapidMovementDetector() *RapidMovementDetector {
	return &RapidMovementDetector{
		MaxGap:          86400,
		VeryRapidGap:    3600,
		AmountTolerance: 0.1,
		MinSwept:        2,
	}
}

func (d *RapidMovementDetector) Type() models.PatternType { return models.PatternRapidMovement }

type movementPair struct {
	deposit    models.Transaction
	withdrawal models.Transaction
	gap        int64
}

func (d *RapidMovementDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	ordered := chronological(buffer)
	deposits := filter(ordered, ofType(models.TransactionTypeDeposit))
	withdrawals := filter(ordered, ofType(models.TransactionTypeWithdrawal))
	if len(deposits) == 0 || len(withdrawals) == 0 {
		return nil, nil
	}

	var pairs []movementPair
	for _, w := range withdrawals {
		direct := d.directPairs(deposits, w)
		if len(direct) == 0 {
			direct = d.sweptPairs(deposits, w)
		}
		pairs = append(pairs, direct...)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	confidence := math.Min(0.2*float64(len(pairs)), 0.6)

	var totalGap int64
	veryRapid := false
	evidencePairs := make([]map[string]interface{}, 0, len(pairs))
	for _, p := range pairs {
		totalGap += p.gap
		if p.gap < d.VeryRapidGap {
			veryRapid = true
		}
		evidencePairs = append(evidencePairs, map[string]interface{}{
			"deposit_id":        p.deposit.ID,
			"withdrawal_id":     p.withdrawal.ID,
			"time_diff_seconds": p.gap,
		})
	}
	if veryRapid {
		confidence += 0.3
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternRapidMovement,
		Confidence:  confidence,
		Description: "Rapid fund movement detected: Funds deposited and withdrawn quickly",
		RiskScore:   riskScore(confidence, 70),
		Evidence: models.Evidence{
			"pair_count":   len(pairs),
			"average_time": float64(totalGap) / float64(len(pairs)),
			"pairs":        evidencePairs,
		},
	}, nil
}

func (d *RapidMovementDetector) withinGap(dep, w models.Transaction) (int64, bool) {
	gap := w.Unix() - dep.Unix()
	return gap, gap > 0 && gap < d.MaxGap
}

func (d *RapidMovementDetector) directPairs(deposits []models.Transaction, w models.Transaction) []movementPair {
	var out []movementPair
	for _, dep := range deposits {
		gap, ok := d.withinGap(dep, w)
		if !ok {
			continue
		}
		depAmount := dep.Amount
		if !depAmount.IsPositive() {
			continue
		}
		if depAmount.Sub(w.Amount).Abs().Div(depAmount).InexactFloat64() < d.AmountTolerance {
			out = append(out, movementPair{deposit: dep, withdrawal: w, gap: gap})
		}
	}
	return out
}

// sweptPairs matches a withdrawal against every qualifying deposit before it
// when their total is within tolerance of the withdrawn amount.
func (d *RapidMovementDetector) sweptPairs(deposits []models.Transaction, w models.Transaction) []movementPair {
	var out []movementPair
	total := sumAmounts(nil)
	for _, dep := range deposits {
		gap, ok := d.withinGap(dep, w)
		if !ok {
			continue
		}
		total = total.Add(dep.Amount)
		out = append(out, movementPair{deposit: dep, withdrawal: w, gap: gap})
	}
	if len(out) < d.MinSwept || !total.IsPositive() {
		return nil
	}
	if total.Sub(w.Amount).Abs().Div(total).InexactFloat64() >= d.AmountTolerance {
		return nil
	}
	return out
}
