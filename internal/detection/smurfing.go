package detection

import (
	"github.com/Aidin1998/amlstream/internal/detection/stats"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// SmurfingDetector flags many small, similar transactions
type SmurfingDetector struct {
	Floor              float64
	Ceiling            float64
	MinMatches         int
	ReportingThreshold float64
}

func NewSmurfingDetector() *SmurfingDetector {
	return &SmurfingDetector{
		Floor:              100,
		Ceiling:            3000,
		MinMatches:         5,
		ReportingThreshold: 10000,
	}
}

func (d *SmurfingDetector) Type() models.PatternType { return models.PatternSmurfing }

func (d *SmurfingDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	small := filter(buffer, func(t models.Transaction) bool {
		a := t.AmountFloat()
		return a > d.Floor && a < d.Ceiling
	})
	if len(small) < d.MinMatches {
		return nil, nil
	}

	values := amounts(small)
	avg := stats.Mean(values)
	variance := stats.Variance(values)
	total := stats.Sum(values)
	diffs := stats.TimeDifferences(timestamps(small))

	confidence := 0.0

	if float64(len(small))/float64(len(buffer)) > 0.7 {
		confidence += 0.3
	}

	// variance against mean, not std-dev; the tuning depends on it
	if variance < avg*0.15 {
		confidence += 0.3
	}

	if len(diffs) > 0 && stats.Max(diffs) < 3600 {
		confidence += 0.2
	}

	if total > d.ReportingThreshold {
		confidence += 0.2
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternSmurfing,
		Confidence:  confidence,
		Description: "Potential smurfing: Multiple small structured transactions",
		RiskScore:   riskScore(confidence, 75),
		Evidence: models.Evidence{
			"small_transaction_count": len(small),
			"average_amount":          avg,
			"total_amount":            total,
			"time_span":               stats.Sum(diffs),
			"transactions":            ids(small),
		},
	}, nil
}
