package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/responsetime"
	"github.com/relaybench/relaybench/internal/throughput"
)

func newEngine(t *testing.T, config Config, clk *clocktesting.FakeClock) *Engine {
	if config.WindowSize == 0 {
		config.WindowSize = time.Second
	}
	e, err := NewEngine(config, clk)
	require.NoError(t, err)
	return e
}

func TestEngine_NegativeResponseTimeIsCountedButExcluded(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := benchcontext.New(benchcontext.Background(), logrus.NewEntry(logger))
	e := newEngine(t, Config{Mode: responsetime.EndToEnd}, clocktesting.NewFakeClock(time.UnixMilli(0)))

	e.Observe(ctx, "collector", record.New("Trade", []string{"1"}, 100), 90)

	s, ok := e.Snapshot("collector", "Trade")
	require.True(t, ok)
	assert.Equal(t, 1.0, s.TotalCount)
	assert.Equal(t, uint64(0), s.RT.N)
	assert.Zero(t, s.AvgRT())
	assert.Zero(t, s.MinRT)
	assert.Zero(t, s.MaxRT)
	assert.Equal(t, uint64(1), s.Skewed)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Trade", hook.LastEntry().Data["stream"])

	e.Observe(ctx, "collector", record.New("Trade", []string{"2"}, 100), 130)
	s, _ = e.Snapshot("collector", "Trade")
	assert.Equal(t, 2.0, s.TotalCount)
	assert.Equal(t, 30.0, s.AvgRT())
	assert.Equal(t, 30.0, s.MinRT)
}

func TestEngine_TupleBasedWithSampling(t *testing.T) {
	e := newEngine(t, Config{
		Mode:            responsetime.EndToEnd,
		EvaluationModel: throughput.TupleBased,
		SamplingRates:   map[string]float64{"Trade": 0.5},
	}, clocktesting.NewFakeClock(time.UnixMilli(0)))
	ctx := benchcontext.Background()

	for _, arrival := range []int64{1000, 1100, 1200} {
		e.Observe(ctx, "collector", record.New("Trade", nil, arrival-10), arrival)
	}
	e.Observe(ctx, "collector", record.New("Quote", nil, 1190), 1200)

	trade, ok := e.Snapshot("collector", "Trade")
	require.True(t, ok)
	assert.Equal(t, 6.0, trade.TotalCount)
	assert.Equal(t, 6.0, trade.Throughput.Current)
	assert.Equal(t, 2.0, trade.Throughput.Min)
	assert.Equal(t, 6.0, trade.Throughput.Max)
	assert.Equal(t, 10.0, trade.AvgRT())
	assert.Zero(t, trade.StdevRT())

	quote, ok := e.Snapshot("collector", "Quote")
	require.True(t, ok)
	assert.Equal(t, 1.0, quote.TotalCount)
	assert.Equal(t, 1.0, quote.Throughput.Current)

	e.Tick()
	trade, _ = e.Snapshot("collector", "Trade")
	assert.Equal(t, 6.0, trade.Throughput.Current, "ticks don't recompute tuple-based windows")
}

func TestEngine_TimeBasedRecomputesOnTick(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.UnixMilli(5000))
	e := newEngine(t, Config{EvaluationModel: throughput.TimeBased, WindowSize: 2 * time.Second}, fakeClock)
	ctx := benchcontext.Background()

	for _, arrival := range []int64{4000, 4500, 5000} {
		e.Observe(ctx, "collector", record.New("Trade", nil), arrival)
	}
	s, _ := e.Snapshot("collector", "Trade")
	assert.Zero(t, s.Throughput.Current)
	assert.Zero(t, s.Throughput.Samples)

	e.Tick()
	s, _ = e.Snapshot("collector", "Trade")
	assert.Equal(t, 1.5, s.Throughput.Current)

	fakeClock.Step(3 * time.Second)
	e.Tick()
	s, _ = e.Snapshot("collector", "Trade")
	assert.Zero(t, s.Throughput.Current)
	assert.Equal(t, 0.75, s.AvgThroughput())
	assert.Equal(t, 3.0, s.TotalCount)
}

func TestEngine_NanosecondResolution(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.UnixMilli(0))
	e := newEngine(t, Config{Mode: responsetime.Local, Resolution: responsetime.Nanoseconds}, fakeClock)
	e.Observe(benchcontext.Background(), "engine", record.New("Trade", nil, 1_000_000, 3_500_000), 4_000_000_000)
	s, _ := e.Snapshot("engine", "Trade")
	assert.Equal(t, 2.5, s.AvgRT())
	assert.Equal(t, 1.0, s.Throughput.Current)
}

func TestEngine_Reset(t *testing.T) {
	e := newEngine(t, Config{Mode: responsetime.EndToEnd}, clocktesting.NewFakeClock(time.UnixMilli(0)))
	ctx := benchcontext.Background()
	e.Observe(ctx, "a", record.New("Trade", nil, 1), 5)
	e.Observe(ctx, "b", record.New("Trade", nil, 1), 5)
	assert.Equal(t, []string{"a", "b"}, e.Connections())

	e.Reset()
	require.Len(t, e.Snapshots(), 2, "reset keeps the counters")
	for _, s := range e.Snapshots() {
		assert.Zero(t, s.TotalCount)
		assert.Zero(t, s.RT.N)
	}
}

func TestEngine_ReportAndCollector(t *testing.T) {
	e := newEngine(t, Config{Mode: responsetime.EndToEnd}, clocktesting.NewFakeClock(time.UnixMilli(0)))
	ctx := benchcontext.Background()
	e.Observe(ctx, "collector", record.New("Trade", nil, 0), 12)
	e.Observe(ctx, "collector", record.New("Quote", nil), 0)

	report := e.Report()
	lines := strings.Split(strings.TrimSpace(report), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "CONNECTION"))
	assert.Contains(t, lines[1], "Quote")
	assert.Contains(t, lines[2], "Trade")
	assert.Contains(t, lines[2], "12.000")

	// Trade has response times; Quote has none.
	assert.Equal(t, 4+5+2+4+2, testutil.CollectAndCount(NewCollector(e)))
}

func TestNewEngine_Invalid(t *testing.T) {
	_, err := NewEngine(Config{}, nil)
	assert.Error(t, err)
	_, err = NewEngine(Config{WindowSize: time.Second, SamplingRates: map[string]float64{"Trade": 2}}, nil)
	assert.Error(t, err)
}
