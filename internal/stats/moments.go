package stats

import "math"

// Moments is a mergeable running summary of response times: sample count, mean and the sum of squared
// deviations from the mean. Updates use Welford's method and merges use Chan's parallel formula, so the
// variance doesn't suffer from the cancellation of sumSqr - sum²/n on long, high volume runs.
type Moments struct {
	N    uint64
	Mean float64
	M2   float64
}

// Add folds a single sample into m.
func (m Moments) Add(x float64) Moments {
	n := m.N + 1
	delta := x - m.Mean
	mean := m.Mean + delta/float64(n)
	return Moments{N: n, Mean: mean, M2: m.M2 + delta*(x-mean)}
}

// Combine returns the moments of the union of the samples summarised by a and b.
// The result doesn't depend on the order of the arguments.
func (m Moments) Combine(other Moments) Moments {
	if m.N == 0 {
		return other
	}
	if other.N == 0 {
		return m
	}
	n := m.N + other.N
	delta := other.Mean - m.Mean
	mean := (float64(m.N)*m.Mean + float64(other.N)*other.Mean) / float64(n)
	m2 := (m.M2 + other.M2) + delta*delta*float64(m.N*other.N)/float64(n)
	return Moments{N: n, Mean: mean, M2: m2}
}

func (m Moments) Sum() float64 {
	return m.Mean * float64(m.N)
}

func (m Moments) SumOfSquares() float64 {
	return m.M2 + float64(m.N)*m.Mean*m.Mean
}

// Stdev is the sample standard deviation; zero for fewer than two samples.
func (m Moments) Stdev() float64 {
	if m.N < 2 {
		return 0
	}
	return math.Sqrt(m.M2 / float64(m.N-1))
}
