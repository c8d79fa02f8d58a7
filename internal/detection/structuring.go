package detection

import (
	"github.com/Aidin1998/amlstream/internal/detection/stats"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// StructuringDetector flags repeated deposits just under the reporting threshold
type StructuringDetector struct {
	ReportingThreshold float64
	MarginPercentage   float64
	VeryCloseFloor     float64
	MinMatches         int
}

// NewStructuringDetector returns the detector tuned for the 10,000 CTR threshold
func NewStructuringDetector() *StructuringDetector {
	return &StructuringDetector{
		ReportingThreshold: 10000,
		MarginPercentage:   0.15,
		VeryCloseFloor:     9000,
		MinMatches:         3,
	}
}

func (d *StructuringDetector) Type() models.PatternType { return models.PatternStructuring }

func (d *StructuringDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	lower := d.ReportingThreshold * (1 - d.MarginPercentage)
	near := filter(buffer, func(t models.Transaction) bool {
		a := t.AmountFloat()
		return a >= lower && a < d.ReportingThreshold
	})
	if len(near) < d.MinMatches {
		return nil, nil
	}

	values := amounts(near)
	avg := stats.Mean(values)
	variance := stats.Variance(values)
	times := timestamps(near)

	confidence := 0.25

	if stats.CoefficientOfVariation(values) < 0.2 {
		confidence += 0.25
	}

	if stats.HasRegularIntervals(stats.TimeDifferences(times)) || stats.IsClusteredInTime(times) {
		confidence += 0.2
	}

	if len(near) >= 4 {
		confidence += 0.15
	}
	if len(near) >= 5 {
		confidence += 0.1
	}

	concentration := float64(len(near)) / float64(len(buffer))
	switch {
	case concentration > 0.6:
		confidence += 0.15
	case concentration > 0.4:
		confidence += 0.1
	}

	veryClose := 0
	for _, a := range values {
		if a >= d.VeryCloseFloor && a < d.ReportingThreshold {
			veryClose++
		}
	}
	if veryClose >= 3 {
		confidence += 0.1
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternStructuring,
		Confidence:  confidence,
		Description: "Potential structuring: Multiple transactions just below reporting threshold",
		RiskScore:   riskScore(confidence, 80),
		Evidence: models.Evidence{
			"transaction_count": len(near),
			"average_amount":    avg,
			"variance":          variance,
			"transactions":      ids(near),
		},
	}, nil
}
