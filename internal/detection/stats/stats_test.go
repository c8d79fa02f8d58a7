package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanVariance(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(values), 1e-9)
	assert.InDelta(t, 4.0, Variance(values), 1e-9)
	assert.InDelta(t, 2.0, StdDev(values), 1e-9)

	assert.Zero(t, Mean(nil))
	assert.Zero(t, Variance(nil))
	assert.Zero(t, CoefficientOfVariation([]float64{0, 0}))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Zero(t, Median(nil))
}

func TestOutliers_ThreeSigma(t *testing.T) {
	values := make([]float64, 0, 10)
	for i := 0; i < 9; i++ {
		values = append(values, 100)
	}
	values = append(values, 10000)

	assert.Equal(t, []int{9}, Outliers(values))
}

func TestOutliers_IdenticalValues(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = 500
	}
	assert.Empty(t, Outliers(values))
	assert.Zero(t, StdDev(values))
}

func TestSkew(t *testing.T) {
	assert.True(t, IsSkewed([]float64{10, 10, 10, 10, 1000}))
	assert.False(t, IsSkewed([]float64{10, 11, 12, 13, 14}))
	assert.Zero(t, Skew([]float64{0, 0, 0}))
}

func TestTimeDifferences_SortsInput(t *testing.T) {
	diffs := TimeDifferences([]int64{300, 0, 100})
	assert.Equal(t, []float64{100, 200}, diffs)
	assert.Nil(t, TimeDifferences([]int64{1}))
}

func TestHasRegularIntervals(t *testing.T) {
	assert.True(t, HasRegularIntervals([]float64{600, 600, 600}))
	assert.False(t, HasRegularIntervals([]float64{600}))
	assert.False(t, HasRegularIntervals([]float64{10, 5000, 20}))
	assert.False(t, HasRegularIntervals([]float64{0, 0}))
}

func TestIsClusteredInTime(t *testing.T) {
	assert.False(t, IsClusteredInTime([]int64{0, 10}))
	assert.True(t, IsClusteredInTime([]int64{0, 3600, 7200}))
	// 3 days span, 1.5 day average gap
	assert.False(t, IsClusteredInTime([]int64{0, 129600, 259200}))
	// 30h span over 6 events averages 6h
	assert.True(t, IsClusteredInTime([]int64{0, 21600, 43200, 64800, 86400, 108000}))
}
