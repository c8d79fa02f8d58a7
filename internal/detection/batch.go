package detection

import (
	"math"
	"sort"

	"github.com/Aidin1998/amlstream/internal/detection/graph"
	"github.com/Aidin1998/amlstream/internal/detection/stats"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// BatchAnalyzer runs over a whole account history rather than one arrival.
// It may report several patterns at once.
type BatchAnalyzer interface {
	Name() string
	Analyze(buffer []models.Transaction) ([]models.PatternMatch, error)
}

// DefaultBatchAnalyzers returns the network, time-series and statistical analyses
func DefaultBatchAnalyzers() []BatchAnalyzer {
	return []BatchAnalyzer{
		NewNetworkAnalyzer(),
		NewTimeSeriesAnalyzer(),
		NewStatisticalAnalyzer(),
	}
}

// NetworkAnalyzer reports hub concentration and compartmentalised flows
type NetworkAnalyzer struct {
	HubFactor float64
}

func NewNetworkAnalyzer() *NetworkAnalyzer {
	return &NetworkAnalyzer{HubFactor: 3}
}

func (a *NetworkAnalyzer) Name() string { return "network" }

func (a *NetworkAnalyzer) Analyze(buffer []models.Transaction) ([]models.PatternMatch, error) {
	g, err := graph.Build(buffer)
	if err != nil {
		return nil, err
	}

	var out []models.PatternMatch
	if hubs := g.HubNodes(a.HubFactor); len(hubs) > 0 {
		out = append(out, models.PatternMatch{
			Type:        models.PatternNetworkConcentration,
			Confidence:  0.8,
			Description: "High concentration of transactions through specific nodes",
			RiskScore:   70,
			Evidence:    models.Evidence{"hub_nodes": hubs},
		})
	}

	if comps := g.Components(); len(comps) > 1 {
		out = append(out, models.PatternMatch{
			Type:        models.PatternCompartmentalization,
			Confidence:  0.7,
			Description: "Isolated transaction groups detected",
			RiskScore:   60,
			Evidence: models.Evidence{
				"subgraph_count": len(comps),
				"subgraphs":      comps,
			},
		})
	}
	return out, nil
}

// TimeSeriesAnalyzer reports periodic activity and hourly bursts
type TimeSeriesAnalyzer struct {
	MinPeriodic int
	BucketWidth int64
	BurstFactor float64
}

func NewTimeSeriesAnalyzer() *TimeSeriesAnalyzer {
	return &TimeSeriesAnalyzer{
		MinPeriodic: 10,
		BucketWidth: 3600,
		BurstFactor: 3,
	}
}

func (a *TimeSeriesAnalyzer) Name() string { return "time_series" }

type burst struct {
	Window           int64    `json:"window"`
	TransactionCount int      `json:"transaction_count"`
	Transactions     []string `json:"transactions"`
}

func (a *TimeSeriesAnalyzer) Analyze(buffer []models.Transaction) ([]models.PatternMatch, error) {
	ordered := chronological(buffer)

	var out []models.PatternMatch
	if len(ordered) >= a.MinPeriodic && stats.HasRegularIntervals(stats.TimeDifferences(timestamps(ordered))) {
		out = append(out, models.PatternMatch{
			Type:        models.PatternPeriodicActivity,
			Confidence:  0.75,
			Description: "Regular periodic transaction pattern detected",
			RiskScore:   55,
			Evidence:    models.Evidence{"period_detected": true},
		})
	}

	if bursts := a.bursts(ordered); len(bursts) > 0 {
		out = append(out, models.PatternMatch{
			Type:        models.PatternActivityBurst,
			Confidence:  0.8,
			Description: "Unusual burst of activity detected",
			RiskScore:   65,
			Evidence: models.Evidence{
				"burst_count": len(bursts),
				"bursts":      bursts,
			},
		})
	}
	return out, nil
}

func (a *TimeSeriesAnalyzer) bursts(ordered []models.Transaction) []burst {
	if len(ordered) == 0 || a.BucketWidth <= 0 {
		return nil
	}

	buckets := make(map[int64][]string)
	for _, t := range ordered {
		w := floorDiv(t.Unix(), a.BucketWidth)
		buckets[w] = append(buckets[w], t.ID)
	}
	avg := float64(len(ordered)) / float64(len(buckets))

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []burst
	for _, k := range keys {
		if float64(len(buckets[k])) > avg*a.BurstFactor {
			out = append(out, burst{
				Window:           k * a.BucketWidth,
				TransactionCount: len(buckets[k]),
				Transactions:     buckets[k],
			})
		}
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// StatisticalAnalyzer reports amount outliers and skewed distributions
type StatisticalAnalyzer struct {
	MinSamples int
}

func NewStatisticalAnalyzer() *StatisticalAnalyzer {
	return &StatisticalAnalyzer{MinSamples: 5}
}

func (a *StatisticalAnalyzer) Name() string { return "statistical" }

func (a *StatisticalAnalyzer) Analyze(buffer []models.Transaction) ([]models.PatternMatch, error) {
	values := amounts(buffer)
	if len(values) < a.MinSamples {
		return nil, nil
	}

	var out []models.PatternMatch
	if idx := stats.Outliers(values); len(idx) > 0 {
		outliers := make([]string, len(idx))
		for i, j := range idx {
			outliers[i] = buffer[j].ID
		}
		out = append(out, models.PatternMatch{
			Type:        models.PatternStatisticalAnomaly,
			Confidence:  math.Min(0.6+0.1*float64(len(idx)), 0.9),
			Description: "Statistical outliers detected in transaction amounts",
			RiskScore:   60,
			Evidence: models.Evidence{
				"outlier_count": len(idx),
				"outliers":      outliers,
				"mean":          stats.Mean(values),
				"std_dev":       stats.StdDev(values),
			},
		})
	}

	if stats.IsSkewed(values) {
		out = append(out, models.PatternMatch{
			Type:        models.PatternDistributionAnomaly,
			Confidence:  0.7,
			Description: "Abnormal distribution of transaction amounts",
			RiskScore:   50,
			Evidence: models.Evidence{
				"distribution_type": "non_normal",
				"skew":              stats.Skew(values),
			},
		})
	}
	return out, nil
}
