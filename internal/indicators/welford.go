package indicators

import "math"

// Welford keeps a running mean and variance in one pass.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

// Add folds x into the running moments.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Stdev returns the sample standard deviation, or 0 with fewer than two samples.
func (w *Welford) Stdev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count-1))
}
