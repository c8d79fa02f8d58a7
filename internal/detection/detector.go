// Package detection implements the AML typology detectors, the batch-only
// analyses, and the engine that runs them with ensemble scoring.
package detection

import (
	"math"
	"sort"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// MinTransactionsForAnalysis is the smallest buffer any detector looks at
const MinTransactionsForAnalysis = 3

// Detector is one swappable typology strategy. Implementations must be pure and
// deterministic over their inputs and return nil when the pattern is absent.
type Detector interface {
	Type() models.PatternType
	Detect(buffer []models.Transaction, current models.Transaction) (*models.PatternMatch, error)
}

// DefaultDetectors returns the seven live detectors with their tuned constants
func DefaultDetectors() []Detector {
	return []Detector{
		NewStructuringDetector(),
		NewLayeringDetector(),
		NewSmurfingDetector(),
		NewRapidMovementDetector(),
		NewRoundTrippingDetector(),
		NewPumpAndDumpDetector(),
		NewWashTradingDetector(),
	}
}

func filter(buffer []models.Transaction, keep func(models.Transaction) bool) []models.Transaction {
	var out []models.Transaction
	for _, t := range buffer {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func ofType(types ...models.TransactionType) func(models.Transaction) bool {
	return func(t models.Transaction) bool {
		for _, want := range types {
			if t.Type == want {
				return true
			}
		}
		return false
	}
}

func amounts(txns []models.Transaction) []float64 {
	out := make([]float64, len(txns))
	for i, t := range txns {
		out[i] = t.AmountFloat()
	}
	return out
}

func timestamps(txns []models.Transaction) []int64 {
	out := make([]int64, len(txns))
	for i, t := range txns {
		out[i] = t.Unix()
	}
	return out
}

func ids(txns []models.Transaction) []string {
	out := make([]string, len(txns))
	for i, t := range txns {
		out[i] = t.ID
	}
	return out
}

// chronological returns a copy sorted by timestamp, stable for ties
func chronological(txns []models.Transaction) []models.Transaction {
	out := append([]models.Transaction(nil), txns...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func riskScore(confidence, weight float64) float64 {
	return math.Min(confidence*weight, 100)
}

func capConfidence(c float64) float64 {
	return math.Min(c, 1.0)
}
