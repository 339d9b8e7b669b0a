package throughput

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
)

// EvaluationModel selects when the throughput of a window is recomputed.
type EvaluationModel int

const (
	// TupleBased recomputes on every arrival, treating the latest timestamp as the current time.
	TupleBased EvaluationModel = iota
	// TimeBased recomputes only on an external tick against the wall clock. Measurements lag slightly but
	// don't jump around under bursty arrivals.
	TimeBased
)

func (m EvaluationModel) String() string {
	if m == TimeBased {
		return "time-based"
	}
	return "tuple-based"
}

func (m *EvaluationModel) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "tuple-based", "tuple", "tuplebased":
		*m = TupleBased
	case "time-based", "time", "timebased":
		*m = TimeBased
	default:
		return errors.Errorf("unknown throughput evaluation model %q", string(text))
	}
	return nil
}

// Window estimates event rates from the timestamps (in epoch milliseconds) of recent events.
// Timestamps are kept sorted; reads first evict every timestamp older than the window size relative to the
// reference time, so all retained timestamps are within the window when the rate is computed.
type Window struct {
	mu         sync.Mutex
	sizeMillis int64
	correction float64
	model      EvaluationModel
	clock      clock.PassiveClock
	timestamps []int64
	current    float64
}

// NewWindow creates a window of sizeMillis. Correction scales counts back up when events are sub-sampled.
func NewWindow(sizeMillis int64, correction float64, model EvaluationModel, clk clock.PassiveClock) (*Window, error) {
	if sizeMillis <= 0 {
		return nil, &bencherrors.ErrInvalidArgument{Name: "windowSize", Value: sizeMillis, Message: "must be positive"}
	}
	if correction <= 0 {
		return nil, &bencherrors.ErrInvalidArgument{Name: "samplingCorrection", Value: correction, Message: "must be positive"}
	}
	return &Window{
		sizeMillis: sizeMillis,
		correction: correction,
		model:      model,
		clock:      clk,
	}, nil
}

func (w *Window) Model() EvaluationModel {
	return w.model
}

// Add records an event at timestamp ts. Under the tuple-based model the throughput is recomputed at once
// and the second return value is true.
func (w *Window) Add(ts int64) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := len(w.timestamps)
	for i > 0 && w.timestamps[i-1] > ts {
		i--
	}
	w.timestamps = slices.Insert(w.timestamps, i, ts)
	if w.model != TupleBased {
		return w.current, false
	}
	return w.compute(), true
}

// ComputeCurrentThroughput evicts stale timestamps and returns the rate in events per second.
// The reference time is the latest timestamp under the tuple-based model and the clock otherwise.
func (w *Window) ComputeCurrentThroughput() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.compute()
}

// Current returns the most recently computed rate without recomputing it.
func (w *Window) Current() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Timestamps returns a copy of the retained timestamps.
func (w *Window) Timestamps() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.timestamps)
}

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timestamps = nil
	w.current = 0
}

func (w *Window) compute() float64 {
	now := w.clock.Now().UnixMilli()
	if w.model == TupleBased {
		if len(w.timestamps) == 0 {
			w.current = 0
			return 0
		}
		now = w.timestamps[len(w.timestamps)-1]
	}
	cutoff := now - w.sizeMillis
	stale, _ := slices.BinarySearch(w.timestamps, cutoff)
	if stale > 0 {
		w.timestamps = slices.Delete(w.timestamps, 0, stale)
	}
	w.current = float64(len(w.timestamps)) * w.correction * 1000 / float64(w.sizeMillis)
	return w.current
}
