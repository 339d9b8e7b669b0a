package telemetry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/responsetime"
	"github.com/relaybench/relaybench/internal/stats"
	"github.com/relaybench/relaybench/internal/throughput"
)

type Config struct {
	// Trailing span over which arrivals are counted to estimate throughput.
	WindowSize      time.Duration `validate:"gt=0"`
	EvaluationModel throughput.EvaluationModel
	// Fraction of events forwarded upstream, per stream. Streams not listed are assumed unsampled.
	SamplingRates map[string]float64
	Mode          responsetime.Mode
	Resolution    responsetime.Resolution
}

func (c Config) samplingRate(stream string) float64 {
	if rate, ok := c.SamplingRates[stream]; ok && rate > 0 {
		return rate
	}
	return 1
}

type key struct {
	connection string
	stream     string
}

// streamTelemetry is what the engine tracks for one stream on one connection.
type streamTelemetry struct {
	counter *stats.Counter
	window  *throughput.Window
	weight  float64
}

// Engine keeps live statistics for every (connection, stream) it observes.
//
// Each pair gets its own counter and throughput window, each with its own lock, so observations on different
// streams never contend. The engine's own lock only guards the creation of new pairs.
type Engine struct {
	config Config
	clock  clock.PassiveClock

	mu      sync.RWMutex
	streams map[key]*streamTelemetry
}

func NewEngine(config Config, clk clock.PassiveClock) (*Engine, error) {
	if config.WindowSize.Milliseconds() <= 0 {
		return nil, &bencherrors.ErrInvalidArgument{Name: "windowSize", Value: config.WindowSize, Message: "must be at least 1ms"}
	}
	for stream, rate := range config.SamplingRates {
		if rate <= 0 || rate > 1 {
			return nil, &bencherrors.ErrInvalidArgument{Name: "samplingRates." + stream, Value: rate, Message: "must be in (0, 1]"}
		}
	}
	return &Engine{config: config, clock: clk, streams: map[key]*streamTelemetry{}}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) get(connection, stream string) *streamTelemetry {
	k := key{connection: connection, stream: stream}
	e.mu.RLock()
	st, ok := e.streams[k]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.streams[k]; ok {
		return st
	}
	weight := 1 / e.config.samplingRate(stream)
	// Arguments were validated by NewEngine.
	window, _ := throughput.NewWindow(e.config.WindowSize.Milliseconds(), weight, e.config.EvaluationModel, e.clock)
	st = &streamTelemetry{
		counter: stats.NewCounter(connection, stream, connection),
		window:  window,
		weight:  weight,
	}
	e.streams[k] = st
	return st
}

// Observe records the arrival of r on connection. Arrival is the time r was received, in the run's resolution.
//
// Counts are scaled by 1/samplingRate. A negative response time is logged as clock skew and left out of the
// response-time aggregates, but the record is still counted.
func (e *Engine) Observe(ctx *benchcontext.Context, connection string, r record.EventRecord, arrival int64) {
	st := e.get(connection, r.Stream)
	st.counter.Count(st.weight)

	m, ok, err := responsetime.Measure(e.config.Mode, e.config.Resolution, r, arrival)
	switch {
	case err != nil:
		st.counter.CountSkewed()
		ctx.Log.WithFields(logrus.Fields{
			"connection": connection,
			"stream":     r.Stream,
		}).WithError(err).Warn("excluding negative response time")
	case ok:
		st.counter.ObserveResponseTime(m.Value, m.Timestamp)
	}

	ts := toMillis(arrival, e.config.Resolution)
	if arrival == 0 {
		ts = e.clock.Now().UnixMilli()
	}
	if rate, recomputed := st.window.Add(ts); recomputed {
		st.counter.ObserveThroughput(rate)
	}
}

func toMillis(ts int64, resolution responsetime.Resolution) int64 {
	if resolution == responsetime.Nanoseconds {
		return ts / int64(time.Millisecond)
	}
	return ts
}

// Tick recomputes the throughput of every time-based window against the clock. It does nothing under the
// tuple-based model, where throughput is recomputed on arrival.
func (e *Engine) Tick() {
	if e.config.EvaluationModel != throughput.TimeBased {
		return
	}
	for _, st := range e.all() {
		st.counter.ObserveThroughput(st.window.ComputeCurrentThroughput())
	}
}

func (e *Engine) all() []*streamTelemetry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := make([]*streamTelemetry, 0, len(e.streams))
	for _, st := range e.streams {
		all = append(all, st)
	}
	return all
}

// Snapshot returns the current statistics of stream on connection.
func (e *Engine) Snapshot(connection, stream string) (stats.Snapshot, bool) {
	e.mu.RLock()
	st, ok := e.streams[key{connection: connection, stream: stream}]
	e.mu.RUnlock()
	if !ok {
		return stats.Snapshot{}, false
	}
	return st.counter.Snapshot(e.clock.Now().UnixMilli()), true
}

// Snapshots returns the current statistics of every observed pair, ordered by stream and then connection.
func (e *Engine) Snapshots() []stats.Snapshot {
	now := e.clock.Now().UnixMilli()
	all := e.all()
	snapshots := make([]stats.Snapshot, len(all))
	for i, st := range all {
		snapshots[i] = st.counter.Snapshot(now)
	}
	stats.SortSnapshots(snapshots)
	return snapshots
}

// Connections returns the connections observed so far, in sorted order.
func (e *Engine) Connections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var connections []string
	for k := range e.streams {
		connections = append(connections, k.connection)
	}
	slices.Sort(connections)
	return slices.Compact(connections)
}

// Reset starts a new measurement session. Counters and windows are zeroed but kept.
func (e *Engine) Reset() {
	for _, st := range e.all() {
		st.counter.Reset()
		st.window.Reset()
	}
}
