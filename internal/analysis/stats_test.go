package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatistics(t *testing.T) {
	s := ComputeStatistics([]float64{1, 2, 3, 4, 5})

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.InDelta(t, 3.0, s.Mean, 1e-9)
	assert.InDelta(t, 3.0, s.Median, 1e-9)
	assert.InDelta(t, 1.4142, s.StdDev, 1e-4)
	assert.InDelta(t, 1.2, s.P5, 1e-9)
	assert.InDelta(t, 2.0, s.P25, 1e-9)
	assert.InDelta(t, 4.0, s.P75, 1e-9)
	assert.InDelta(t, 4.8, s.P95, 1e-9)
}

func TestComputeStatisticsEdgeCases(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStatistics(nil))

	s := ComputeStatistics([]float64{7})
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 7.0, s.Min)
	assert.Equal(t, 7.0, s.Max)
	assert.Equal(t, 7.0, s.Median)
	assert.Equal(t, 7.0, s.P5)
	assert.Equal(t, 7.0, s.P95)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestComputeStatisticsDoesNotMutateInput(t *testing.T) {
	in := []float64{5, 1, 4, 2, 3}
	ComputeStatistics(in)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, in)
}

func TestBuildHistogram(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	bins := BuildHistogram(values, 5)
	require.Len(t, bins, 5)

	total := 0
	for _, b := range bins {
		total += b.Count
		assert.Equal(t, 2, b.Count)
	}
	assert.Equal(t, len(values), total)
	assert.Equal(t, 0.0, bins[0].Lo)
	assert.Equal(t, 9.0, bins[4].Hi)
}

func TestBuildHistogramMaxValueInLastBin(t *testing.T) {
	bins := BuildHistogram([]float64{0, 10}, 4)
	require.Len(t, bins, 4)
	assert.Equal(t, 1, bins[0].Count)
	assert.Equal(t, 1, bins[3].Count)
}

func TestBuildHistogramDegenerate(t *testing.T) {
	bins := BuildHistogram([]float64{3, 3, 3}, 10)
	require.Len(t, bins, 1)
	assert.Equal(t, 3, bins[0].Count)
	assert.Equal(t, 3.0, bins[0].Lo)
	assert.Equal(t, 3.0, bins[0].Hi)

	assert.Nil(t, BuildHistogram(nil, 5))
	assert.Nil(t, BuildHistogram([]float64{1}, 0))
}
