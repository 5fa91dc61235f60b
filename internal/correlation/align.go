package correlation

import "time"

// alignReturns pairs the two return series by nearest timestamp. For every
// element of series a it greedily picks the closest element of series b
// within the window. A b-side outcome may be matched more than once, which
// double-counts it in the correlation input; this mirrors the long-standing
// behavior of the alignment and is kept intentionally.
func alignReturns(a, b []Outcome, window time.Duration) (x, y []float64) {
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}

	x = make([]float64, 0, len(a))
	y = make([]float64, 0, len(a))

	for i := range a {
		bestIdx := -1
		var bestDist time.Duration
		for j := range b {
			dist := absDuration(a[i].Timestamp.Sub(b[j].Timestamp))
			if dist > window {
				continue
			}
			if bestIdx == -1 || dist < bestDist {
				bestIdx = j
				bestDist = dist
			}
		}
		if bestIdx >= 0 {
			x = append(x, a[i].ReturnPct)
			y = append(y, b[bestIdx].ReturnPct)
		}
	}
	return x, y
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
