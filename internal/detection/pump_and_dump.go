package detection

import (
	"github.com/Aidin1998/amlstream/internal/detection/stats"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// PumpAndDumpDetector flags buy accumulation followed by distribution
type PumpAndDumpDetector struct {
	MinBuys          int
	MinSells         int
	VolumeRatio      float64
	PriceMarkup      float64
	AccumulationSpan int64
}

func NewPumpAndDumpDetector() *PumpAndDumpDetector {
	return &PumpAndDumpDetector{
		MinBuys:          3,
		MinSells:         2,
		VolumeRatio:      0.8,
		PriceMarkup:      1.1,
		AccumulationSpan: 86400,
	}
}

func (d *PumpAndDumpDetector) Type() models.PatternType { return models.PatternPumpAndDump }

func (d *PumpAndDumpDetector) Detect(buffer []models.Transaction, _ models.Transaction) (*models.PatternMatch, error) {
	if len(buffer) < MinTransactionsForAnalysis {
		return nil, nil
	}

	buys := filter(buffer, func(t models.Transaction) bool { return t.Type.IsBuySide() })
	sells := filter(buffer, func(t models.Transaction) bool { return t.Type.IsSellSide() })
	if len(buys) < d.MinBuys || len(sells) < d.MinSells {
		return nil, nil
	}

	buyTimes := timestamps(buys)
	sellTimes := timestamps(sells)
	firstBuy, lastBuy := bounds(buyTimes)
	firstSell, _ := bounds(sellTimes)
	if firstSell < lastBuy {
		return nil, nil
	}

	buyVolume := sumAmounts(buys)
	sellVolume := sumAmounts(sells)

	confidence := 0.0

	if sellVolume.InexactFloat64() > buyVolume.InexactFloat64()*d.VolumeRatio {
		confidence += 0.4
	}

	impact, err := d.priceImpact(buys, sells)
	if err != nil {
		return nil, err
	}
	if impact {
		confidence += 0.3
	}

	span := firstSell - firstBuy
	if span < d.AccumulationSpan {
		confidence += 0.3
	}

	confidence = capConfidence(confidence)
	return &models.PatternMatch{
		Type:        models.PatternPumpAndDump,
		Confidence:  confidence,
		Description: "Potential pump and dump: Accumulation followed by distribution",
		RiskScore:   riskScore(confidence, 90),
		Evidence: models.Evidence{
			"buy_count":         len(buys),
			"sell_count":        len(sells),
			"buy_volume":        buyVolume.String(),
			"sell_volume":       sellVolume.String(),
			"time_span_seconds": span,
		},
	}, nil
}

// priceImpact is true when the average sell price beats the average buy price by the markup
func (d *PumpAndDumpDetector) priceImpact(buys, sells []models.Transaction) (bool, error) {
	buyPrices, err := prices(buys)
	if err != nil {
		return false, err
	}
	sellPrices, err := prices(sells)
	if err != nil {
		return false, err
	}
	if len(buyPrices) == 0 || len(sellPrices) == 0 {
		return false, nil
	}
	return stats.Mean(sellPrices) > stats.Mean(buyPrices)*d.PriceMarkup, nil
}

func prices(txns []models.Transaction) ([]float64, error) {
	var out []float64
	for _, t := range txns {
		p, ok, err := t.MetaDecimal(models.MetaPrice)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p.InexactFloat64())
		}
	}
	return out, nil
}

func bounds(values []int64) (lo, hi int64) {
	for i, v := range values {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	return lo, hi
}
