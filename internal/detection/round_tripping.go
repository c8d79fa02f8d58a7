package detection

import (
	"math"

	"github.com/Aidin1998/amlstream/internal/detection/graph"
	"github.com/Aidin1998/amlstream/internal/detection/stats"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// RoundTrippingDetector looks for transfer cycles that bring funds back to their origin
type RoundTrippingDetector struct {
	MinTransfers   int
	ShortCycle     int
	MaxCycles      int
	PreservedIndex float64
}

func NewRoundTrippingDetector() *RoundTrippingDetector {
	return &RoundTrippingDetector{
		MinTransfers:   3,
		ShortCycle:     4,
		MaxCycles:      graph.DefaultMaxCycles,
		PreservedIndex: 0.1,
	}
}

func (d *RoundTrippingDetector) Type() models.PatternType { return models.PatternRoundTripping }

func (d *RoundTrippingDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	transfers := filter(buffer, ofType(models.TransactionTypeTransfer))
	if len(transfers) < d.MinTransfers {
		return nil, nil
	}

	g, err := graph.Build(transfers)
	if err != nil {
		return nil, err
	}
	cycles := g.Cycles(d.MaxCycles)
	if len(cycles) == 0 {
		return nil, nil
	}

	confidence := math.Min(0.3*float64(len(cycles)), 0.6)

	for _, c := range cycles {
		if len(c) <= d.ShortCycle {
			confidence += 0.2
			break
		}
	}

	preserved := 0
	for _, c := range cycles {
		ok, err := d.amountPreserved(c, transfers)
		if err != nil {
			return nil, err
		}
		if ok {
			preserved++
			confidence += 0.1
		}
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternRoundTripping,
		Confidence:  confidence,
		Description: "Round tripping detected: Circular fund movement pattern",
		RiskScore:   riskScore(confidence, 80),
		Evidence: models.Evidence{
			"cycle_count":      len(cycles),
			"cycles":           cycles,
			"preserved_cycles": preserved,
			"transfer_count":   len(transfers),
		},
	}, nil
}

// amountPreserved reports whether transfers leaving the cycle's nodes carry
// near-identical amounts. Only transfers with an explicit source count.
func (d *RoundTrippingDetector) amountPreserved(c graph.Cycle, transfers []models.Transaction) (bool, error) {
	members := make(map[string]struct{}, len(c))
	for _, n := range c {
		members[n] = struct{}{}
	}

	var values []float64
	for _, t := range transfers {
		from, ok, err := t.MetaString(models.MetaFrom)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if _, in := members[from]; in {
			values = append(values, t.AmountFloat())
		}
	}

	index, ok := stats.DispersionIndex(values)
	return ok && index < d.PreservedIndex, nil
}
