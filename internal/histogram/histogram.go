package histogram

import (
	"math"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
)

// Histogram counts values in equal-width buckets over [min, max].
// Values below min are discarded; values at or above max are counted in the last bucket.
type Histogram struct {
	min         float64
	max         float64
	binWidth    float64
	frequencies []uint64
	total       uint64
	cumulative  bool
}

// Bucket is a single row of a frequency table.
type Bucket struct {
	LowerBound float64
	Frequency  float64
}

// New creates a histogram with ceil((max-min)/binWidth) buckets. The bucket count never changes afterwards.
func New(min, max, binWidth float64, cumulative bool) (*Histogram, error) {
	if binWidth <= 0 || math.IsNaN(binWidth) {
		return nil, &bencherrors.ErrInvalidArgument{Name: "binWidth", Value: binWidth, Message: "must be positive"}
	}
	if !(max > min) {
		return nil, &bencherrors.ErrInvalidArgument{Name: "max", Value: max, Message: "must be greater than min"}
	}
	buckets := int(math.Ceil((max - min) / binWidth))
	return &Histogram{
		min:         min,
		max:         max,
		binWidth:    binWidth,
		frequencies: make([]uint64, buckets),
		cumulative:  cumulative,
	}, nil
}

// WithBuckets creates a histogram splitting [min, max] into n buckets.
func WithBuckets(min, max float64, n int, cumulative bool) (*Histogram, error) {
	if n <= 0 {
		return nil, &bencherrors.ErrInvalidArgument{Name: "buckets", Value: n, Message: "must be positive"}
	}
	return New(min, max, (max-min)/float64(n), cumulative)
}

// Add records value. It returns false if the value was discarded for being below min.
func (h *Histogram) Add(value float64) bool {
	if value < h.min || math.IsNaN(value) {
		return false
	}
	index := len(h.frequencies) - 1
	if value < h.max {
		index = int(math.Floor((value - h.min) / h.binWidth))
		if index >= len(h.frequencies) {
			index = len(h.frequencies) - 1
		}
	}
	h.frequencies[index]++
	h.total++
	return true
}

// Count returns the number of values recorded, excluding those discarded.
func (h *Histogram) Count() uint64 {
	return h.total
}

func (h *Histogram) Buckets() int {
	return len(h.frequencies)
}

// FrequencyTable returns the relative frequency of every bucket keyed by its lower bound, in ascending order.
// If the histogram is cumulative each frequency includes those of all lower buckets.
func (h *Histogram) FrequencyTable() []Bucket {
	table := make([]Bucket, len(h.frequencies))
	running := 0.0
	for i, count := range h.frequencies {
		frequency := 0.0
		if h.total > 0 {
			frequency = float64(count) / float64(h.total)
		}
		if h.cumulative {
			running += frequency
			frequency = running
		}
		table[i] = Bucket{LowerBound: h.min + float64(i)*h.binWidth, Frequency: frequency}
	}
	return table
}
