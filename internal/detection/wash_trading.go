package detection

import (
	"github.com/Aidin1998/amlstream/internal/detection/stats"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// WashTradingDetector flags self-dealing trades that move no price
type WashTradingDetector struct {
	MinTrades       int
	PairWindow      int64
	MinPairs        int
	PriceDispersion float64
}

func NewWashTradingDetector() *WashTradingDetector {
	return &WashTradingDetector{
		MinTrades:       4,
		PairWindow:      300,
		MinPairs:        2,
		PriceDispersion: 0.02,
	}
}

func (d *WashTradingDetector) Type() models.PatternType { return models.PatternWashTrading }

func (d *WashTradingDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	trades := filter(buffer, func(t models.Transaction) bool { return t.Type.IsTrade() })
	if len(trades) < d.MinTrades {
		return nil, nil
	}

	confidence := 0.0

	paired := d.pairedTrades(trades)
	if paired >= d.MinPairs {
		confidence += 0.4
	}

	tradePrices, err := prices(trades)
	if err != nil {
		return nil, err
	}
	if len(tradePrices) >= 2 {
		if index, ok := stats.DispersionIndex(tradePrices); ok && index < d.PriceDispersion {
			confidence += 0.3
		}
	}

	if stats.HasRegularIntervals(stats.TimeDifferences(timestamps(trades))) {
		confidence += 0.3
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternWashTrading,
		Confidence:  confidence,
		Description: "Potential wash trading: Artificial trading activity detected",
		RiskScore:   riskScore(confidence, 85),
		Evidence: models.Evidence{
			"trade_count":   len(trades),
			"paired_trades": paired,
			"trades":        ids(trades),
		},
	}, nil
}

// pairedTrades counts buy/sell pairs executed within the pair window of each other
func (d *WashTradingDetector) pairedTrades(trades []models.Transaction) int {
	pairs := 0
	for i := 0; i < len(trades)-1; i++ {
		for j := i + 1; j < len(trades); j++ {
			if trades[i].Type.IsBuySide() == trades[j].Type.IsBuySide() {
				continue
			}
			gap := trades[i].Unix() - trades[j].Unix()
			if gap < 0 {
				gap = -gap
			}
			if gap < d.PairWindow {
				pairs++
			}
		}
	}
	return pairs
}
