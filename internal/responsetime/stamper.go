package responsetime

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/record"
)

// Stamper produces timestamps in the run's resolution and extracts response times from stamped records.
type Stamper struct {
	mode       Mode
	resolution Resolution
	clock      clock.PassiveClock
}

func NewStamper(mode Mode, resolution Resolution, clk clock.PassiveClock) *Stamper {
	return &Stamper{mode: mode, resolution: resolution, clock: clk}
}

func (s *Stamper) Mode() Mode {
	return s.mode
}

func (s *Stamper) Resolution() Resolution {
	return s.resolution
}

// Now returns the current time in the stamper's resolution.
func (s *Stamper) Now() int64 {
	return ToResolution(s.clock.Now(), s.resolution)
}

// ToResolution converts t to an integer timestamp of the given resolution.
func ToResolution(t time.Time, resolution Resolution) int64 {
	if resolution == Nanoseconds {
		return t.UnixNano()
	}
	return t.UnixMilli()
}

// StampEmission adds the emission timestamp to a record leaving a generator. Only EndToEnd records carry one.
func (s *Stamper) StampEmission(r record.EventRecord) record.EventRecord {
	if s.mode != EndToEnd {
		return r
	}
	return r.WithTimestamps(s.Now())
}

// StampLocal runs process on r, stamping the time r was received and the time the processed record is
// about to be forwarded. Outside Local mode process is applied without stamping.
func (s *Stamper) StampLocal(r record.EventRecord, process func(record.EventRecord) record.EventRecord) record.EventRecord {
	if s.mode != Local {
		return process(r)
	}
	received := s.Now()
	out := process(r).WithoutTimestamps()
	return out.WithTimestamps(received, s.Now())
}

// Measurement is a response time extracted from a record.
type Measurement struct {
	// Milliseconds between the earlier and the later timestamp. Negative under clock skew.
	Value float64
	// Timestamp the throughput window should be fed with, in the run's resolution.
	Timestamp int64
}

// Measure extracts the response time of r, using arrival as the later timestamp under EndToEnd. It returns false if
// the mode measures nothing or the record lacks the timestamps the mode requires. A negative response time is
// returned together with an *ErrClockSkew so callers can count the record but exclude it from aggregates.
func Measure(mode Mode, resolution Resolution, r record.EventRecord, arrival int64) (Measurement, bool, error) {
	var earlier, later int64
	switch mode {
	case EndToEnd:
		if len(r.Timestamps) < 1 {
			return Measurement{}, false, nil
		}
		earlier, later = r.Timestamps[len(r.Timestamps)-1], arrival
	case Local:
		if len(r.Timestamps) < 2 {
			return Measurement{}, false, nil
		}
		earlier, later = r.Timestamps[len(r.Timestamps)-2], r.Timestamps[len(r.Timestamps)-1]
	default:
		return Measurement{}, false, nil
	}
	m := Measurement{Value: Compute(earlier, later, resolution), Timestamp: later}
	if m.Value < 0 {
		return m, true, &bencherrors.ErrClockSkew{Stream: r.Stream, Earlier: earlier, Later: later}
	}
	return m, true, nil
}
