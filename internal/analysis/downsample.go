package analysis

import "math"

// Point is one (x, y) sample of an ordered numeric series.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Downsample reduces series to at most target points using
// largest-triangle-three-buckets: the first and last points are always
// kept, the rest of the series is split into target-2 buckets and each
// bucket contributes the point forming the largest triangle with the
// previously selected point and the next bucket's centroid. The input
// is returned unchanged when it already fits, so the operation is
// idempotent. No state is shared between calls.
func Downsample(series []Point, target int) []Point {
	if target >= len(series) || target < 3 {
		return series
	}

	sampled := make([]Point, 0, target)
	sampled = append(sampled, series[0])

	// Bucket width over the interior points.
	every := float64(len(series)-2) / float64(target-2)
	a := 0

	for i := 0; i < target-2; i++ {
		// Centroid of the next bucket.
		nextStart := int(float64(i+1)*every) + 1
		nextEnd := int(float64(i+2)*every) + 1
		if nextEnd > len(series) {
			nextEnd = len(series)
		}
		var avgX, avgY float64
		n := nextEnd - nextStart
		if n < 1 {
			n = 1
			nextStart = len(series) - 1
			nextEnd = len(series)
		}
		for _, p := range series[nextStart:nextEnd] {
			avgX += p.X
			avgY += p.Y
		}
		avgX /= float64(n)
		avgY /= float64(n)

		// Current bucket range.
		start := int(float64(i)*every) + 1
		end := int(float64(i+1)*every) + 1
		if end > len(series)-1 {
			end = len(series) - 1
		}

		pa := series[a]
		maxArea := -1.0
		maxIdx := start
		for j := start; j < end; j++ {
			area := math.Abs((pa.X-avgX)*(series[j].Y-pa.Y)-(pa.X-series[j].X)*(avgY-pa.Y)) / 2
			if area > maxArea {
				maxArea = area
				maxIdx = j
			}
		}

		sampled = append(sampled, series[maxIdx])
		a = maxIdx
	}

	sampled = append(sampled, series[len(series)-1])
	return sampled
}
