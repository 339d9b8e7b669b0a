package record

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Direction says whether a stream flows into the system under test or out of it.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// UnmarshalText allows directions to be given as "input" or "output" in config files.
func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "input", "in":
		*d = Input
	case "output", "out":
		*d = Output
	default:
		return errors.Errorf("unknown stream direction %q", string(text))
	}
	return nil
}

// Stream identifies a named directional channel of records.
type Stream struct {
	Name      string
	Direction Direction
}

func (s Stream) String() string {
	return s.Name + "/" + s.Direction.String()
}

// Less orders streams by name and then by direction.
func (s Stream) Less(other Stream) bool {
	if s.Name != other.Name {
		return s.Name < other.Name
	}
	return s.Direction < other.Direction
}

// SortStreams sorts streams in place by name and then direction.
func SortStreams(streams []Stream) {
	slices.SortFunc(streams, func(a, b Stream) bool { return a.Less(b) })
}

// EventRecord is a single observation on a stream. Fields hold raw text; Timestamps hold the response time
// timestamps carried on the wire, in the resolution of the run.
// Records are treated as immutable once built; use New to get a record that shares no memory with its inputs.
type EventRecord struct {
	Stream     string
	Fields     []string
	Timestamps []int64
}

func New(stream string, fields []string, timestamps ...int64) EventRecord {
	return EventRecord{
		Stream:     stream,
		Fields:     slices.Clone(fields),
		Timestamps: slices.Clone(timestamps),
	}
}

// WithTimestamps returns a copy of the record with ts appended to its timestamps.
func (r EventRecord) WithTimestamps(ts ...int64) EventRecord {
	timestamps := make([]int64, 0, len(r.Timestamps)+len(ts))
	timestamps = append(timestamps, r.Timestamps...)
	timestamps = append(timestamps, ts...)
	return EventRecord{Stream: r.Stream, Fields: slices.Clone(r.Fields), Timestamps: timestamps}
}

// WithoutTimestamps returns a copy of the record carrying no timestamps.
func (r EventRecord) WithoutTimestamps() EventRecord {
	return EventRecord{Stream: r.Stream, Fields: slices.Clone(r.Fields)}
}

func (r EventRecord) Equal(other EventRecord) bool {
	return r.Stream == other.Stream &&
		slices.Equal(r.Fields, other.Fields) &&
		slices.Equal(r.Timestamps, other.Timestamps)
}
