package responsetime

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects how response time is measured during a run.
type Mode int

const (
	// None carries no timestamps.
	None Mode = iota
	// EndToEnd has the generator stamp emission time and the collector stamp arrival time.
	EndToEnd
	// Local has a single mid-pipeline component stamp both receipt and forwarding time, isolating its own latency.
	Local
)

var modeNames = map[Mode]string{
	None:     "NONE",
	EndToEnd: "END_TO_END",
	Local:    "LOCAL",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// WireTimestamps is the number of timestamps a record carries on the wire in this mode. Under EndToEnd only the
// emission time travels with the record; the collector stamps the arrival time itself.
func (m Mode) WireTimestamps() int {
	switch m {
	case EndToEnd:
		return 1
	case Local:
		return 2
	default:
		return 0
	}
}

// LogTimestamps is the number of timestamps a record carries in a collector log. Under EndToEnd the collector
// appends its arrival stamp, in the run's resolution, after the emission time.
func (m Mode) LogTimestamps() int {
	if m == EndToEnd {
		return 2
	}
	return m.WireTimestamps()
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode accepts the names printed by Mode.String, case-insensitively, with '-' or ' ' in place of '_'.
func ParseMode(s string) (Mode, error) {
	normalised := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	for mode, name := range modeNames {
		if name == normalised {
			return mode, nil
		}
	}
	return None, errors.Errorf("unknown response time mode %q", s)
}

// Resolution is the unit timestamps are recorded in. It is fixed for a run and written to log headers.
type Resolution int

const (
	Milliseconds Resolution = iota
	Nanoseconds
)

func (r Resolution) String() string {
	switch r {
	case Nanoseconds:
		return "NANOSECONDS"
	default:
		return "MILLISECONDS"
	}
}

// Factor converts a timestamp difference in this resolution to milliseconds.
func (r Resolution) Factor() float64 {
	if r == Nanoseconds {
		return 1e6
	}
	return 1
}

func (r *Resolution) UnmarshalText(text []byte) error {
	res, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = res
	return nil
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func ParseResolution(s string) (Resolution, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MILLISECONDS", "MS", "MILLIS":
		return Milliseconds, nil
	case "NANOSECONDS", "NS", "NANOS":
		return Nanoseconds, nil
	default:
		return Milliseconds, errors.Errorf("unknown response time resolution %q", s)
	}
}

// Compute returns (later - earlier) / resolution factor, in milliseconds.
// The result is negative when the clocks of the measuring processes are skewed; it is never clamped.
func Compute(earlier, later int64, resolution Resolution) float64 {
	return float64(later-earlier) / resolution.Factor()
}
