package analysis

import (
	"sort"

	"github.com/montanaflynn/stats"
)

// Stats is the descriptive-statistics summary for one numeric series.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
}

// ComputeStatistics summarises values. Empty input returns the zero
// struct and a single element returns that value everywhere, so callers
// never need to special-case short series.
func ComputeStatistics(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}

	data := stats.Float64Data(values)
	min, _ := data.Min()
	max, _ := data.Max()
	mean, _ := data.Mean()
	median, _ := data.Median()
	stdDev, _ := data.StandardDeviationPopulation()

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return Stats{
		Count:  n,
		Min:    min,
		Max:    max,
		Mean:   mean,
		Median: median,
		StdDev: stdDev,
		P5:     percentile(sorted, 5),
		P25:    percentile(sorted, 25),
		P75:    percentile(sorted, 75),
		P95:    percentile(sorted, 95),
	}
}

// percentile interpolates linearly between the two nearest ranks of an
// already-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(rank)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// HistogramBin is one equal-width bin over [Lo, Hi).
type HistogramBin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// BuildHistogram partitions [min, max] into binCount equal-width bins.
// The maximum value lands in the last bin. A degenerate series (all
// values equal) collapses into a single bin.
func BuildHistogram(values []float64, binCount int) []HistogramBin {
	if len(values) == 0 || binCount <= 0 {
		return nil
	}

	data := stats.Float64Data(values)
	min, _ := data.Min()
	max, _ := data.Max()

	if min == max {
		return []HistogramBin{{Lo: min, Hi: max, Count: len(values)}}
	}

	width := (max - min) / float64(binCount)
	bins := make([]HistogramBin, binCount)
	for i := range bins {
		bins[i].Lo = min + float64(i)*width
		bins[i].Hi = min + float64(i+1)*width
	}
	bins[binCount-1].Hi = max

	for _, v := range values {
		i := int((v - min) / width)
		if i >= binCount {
			i = binCount - 1
		}
		bins[i].Count++
	}
	return bins
}
