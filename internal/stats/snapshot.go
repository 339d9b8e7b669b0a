package stats

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
)

// Key identifies a snapshot. Snapshots with equal keys describe the same bucket as observed by different sources.
type Key struct {
	Timestamp int64
	Server    string
	Stream    string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s", k.Timestamp, k.Server, k.Stream)
}

// Less orders keys by timestamp, then stream, then server.
func (k Key) Less(other Key) bool {
	if k.Timestamp != other.Timestamp {
		return k.Timestamp < other.Timestamp
	}
	if k.Stream != other.Stream {
		return k.Stream < other.Stream
	}
	return k.Server < other.Server
}

// Throughput summarises the per-bucket event rates (events per second) a counter has seen.
type Throughput struct {
	Current float64
	Min     float64
	Max     float64
	Sum     float64
	Samples uint64
}

func (t Throughput) Avg() float64 {
	if t.Samples == 0 {
		return 0
	}
	return t.Sum / float64(t.Samples)
}

func (t Throughput) add(rate float64) Throughput {
	if t.Samples == 0 || rate < t.Min {
		t.Min = rate
	}
	if t.Samples == 0 || rate > t.Max {
		t.Max = rate
	}
	t.Current = rate
	t.Sum += rate
	t.Samples++
	return t
}

// Snapshot is an immutable view of a Counter at a point in time. Obtain one from Counter.Refresh or
// Counter.Snapshot; combine two with Merge.
type Snapshot struct {
	Key
	TotalCount  float64
	WindowCount float64
	// Records whose response time was negative. They are counted but excluded from the response-time fields.
	Skewed     uint64
	RT         Moments
	MinRT      float64
	MaxRT      float64
	LastRT     float64
	LastRTAt   int64
	Throughput Throughput
	// Sorted identities of the inputs (e.g. log files) that contributed to this snapshot.
	Sources []string
}

func (s Snapshot) AvgRT() float64 {
	return s.RT.Mean
}

func (s Snapshot) StdevRT() float64 {
	return s.RT.Stdev()
}

func (s Snapshot) SumRT() float64 {
	return s.RT.Sum()
}

func (s Snapshot) SumSqrRT() float64 {
	return s.RT.SumOfSquares()
}

func (s Snapshot) AvgThroughput() float64 {
	return s.Throughput.Avg()
}

// Merge folds two observations of the same bucket into one.
//
// Counts, response-time moments and throughputs are added; response-time bounds are widened.
// The per-bucket rates of different sources aren't kept, so the merged throughput Min and Max are the sums of
// the sources' minima and maxima. They bound the combined rate from below and above rather than recording
// an observed combined rate.
// Sources make merging safe to repeat: if one side's sources already include all of the other's, the
// other side is already accounted for and the larger side is returned unchanged. Overlapping but
// incomparable source sets can't be combined without counting the shared sources twice, so the side with more
// sources wins, ties broken by their names. Merge(a, b) and Merge(b, a) always agree.
func Merge(a, b Snapshot) (Snapshot, error) {
	if a.Key != b.Key {
		return Snapshot{}, &bencherrors.ErrInvalidArgument{
			Name:    "snapshot",
			Value:   b.Key,
			Message: fmt.Sprintf("can't be merged into snapshot %s", a.Key),
		}
	}
	switch {
	case isSubset(b.Sources, a.Sources):
		return a.clone(), nil
	case isSubset(a.Sources, b.Sources):
		return b.clone(), nil
	case intersects(a.Sources, b.Sources):
		return preferred(a, b).clone(), nil
	}

	merged := Snapshot{
		Key:         a.Key,
		TotalCount:  a.TotalCount + b.TotalCount,
		WindowCount: a.WindowCount + b.WindowCount,
		Skewed:      a.Skewed + b.Skewed,
		RT:          a.RT.Combine(b.RT),
		Throughput: Throughput{
			Current: a.Throughput.Current + b.Throughput.Current,
			Min:     a.Throughput.Min + b.Throughput.Min,
			Max:     a.Throughput.Max + b.Throughput.Max,
			Samples: maxUint64(a.Throughput.Samples, b.Throughput.Samples),
		},
		Sources: union(a.Sources, b.Sources),
	}
	// Both sources were producing at once, so the merged average rate is the sum of the two averages.
	merged.Throughput.Sum = (a.Throughput.Avg() + b.Throughput.Avg()) * float64(merged.Throughput.Samples)

	switch {
	case a.RT.N == 0:
		merged.MinRT, merged.MaxRT = b.MinRT, b.MaxRT
	case b.RT.N == 0:
		merged.MinRT, merged.MaxRT = a.MinRT, a.MaxRT
	default:
		merged.MinRT = math.Min(a.MinRT, b.MinRT)
		merged.MaxRT = math.Max(a.MaxRT, b.MaxRT)
	}

	last := a
	if b.RT.N > 0 && (a.RT.N == 0 || b.LastRTAt > a.LastRTAt || (b.LastRTAt == a.LastRTAt && b.LastRT > a.LastRT)) {
		last = b
	}
	merged.LastRT, merged.LastRTAt = last.LastRT, last.LastRTAt
	return merged, nil
}

func (s Snapshot) clone() Snapshot {
	s.Sources = slices.Clone(s.Sources)
	return s
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// preferred deterministically picks one of two snapshots with overlapping, incomparable sources.
func preferred(a, b Snapshot) Snapshot {
	if len(a.Sources) != len(b.Sources) {
		if len(a.Sources) > len(b.Sources) {
			return a
		}
		return b
	}
	for i := range a.Sources {
		if a.Sources[i] != b.Sources[i] {
			if a.Sources[i] < b.Sources[i] {
				return a
			}
			return b
		}
	}
	return a
}

// isSubset reports whether sorted set sub is contained in sorted set super.
func isSubset(sub, super []string) bool {
	for _, s := range sub {
		if _, found := slices.BinarySearch(super, s); !found {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	for _, s := range a {
		if _, found := slices.BinarySearch(b, s); found {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
