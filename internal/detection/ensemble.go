package detection

import (
	"math"

	"github.com/Aidin1998/amlstream/pkg/models"
)

const (
	ensembleStep     = 0.1
	ensembleMaxBoost = 0.3
)

// ApplyEnsemble raises every match's confidence when several detectors agree on
// the same evaluation. Matches that already carry a boost are left alone, so
// scoring the same list twice is a no-op.
func ApplyEnsemble(matches []models.PatternMatch) []models.PatternMatch {
	if len(matches) < 2 {
		return matches
	}
	for _, m := range matches {
		if m.EnsembleBoost > 0 {
			return matches
		}
	}

	n := len(matches)
	boost := math.Min(ensembleStep*float64(n-1), ensembleMaxBoost)

	out := make([]models.PatternMatch, n)
	for i, m := range matches {
		m.Confidence = math.Min(m.Confidence+boost, 1.0)
		m.EnsembleBoost = boost
		m.CorrelatedPatterns = n - 1
		out[i] = m
	}
	return out
}
