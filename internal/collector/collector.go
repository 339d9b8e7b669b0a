package collector

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/common/task"
	"github.com/relaybench/relaybench/internal/common/util"
	"github.com/relaybench/relaybench/internal/logfile"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
	"github.com/relaybench/relaybench/internal/responsetime"
	"github.com/relaybench/relaybench/internal/telemetry"
)

type Config struct {
	// Label recorded in the log header. Defaults to a generated label.
	Connection string
	// Address recorded in the log header.
	Address string
	// Optional path of a log file every received record is appended to.
	LogFile string
	// Sampling rate recorded in the log header.
	SamplingRate float64 `validate:"gte=0,lte=1"`
	// How often time-based throughput windows are re-evaluated.
	TickInterval time.Duration
	// How often the statistics table is logged. Zero disables reporting.
	ReportInterval time.Duration
}

// Collector is the consumer end of a run. It stamps every record it receives with its arrival time, feeds it to the
// telemetry engine and, if configured, appends it to a log file for offline analysis.
type Collector struct {
	config  Config
	engine  *telemetry.Engine
	stamper *responsetime.Stamper
	clock   clock.Clock
	writer  *logfile.Writer
	tasks   *task.BackgroundTaskManager
}

// New creates a collector. Records are encoded into the log file with codec's separator and schema. A nil reg leaves
// the background task metrics unregistered.
func New(config Config, engine *telemetry.Engine, codec *record.Codec, clk clock.Clock, reg prometheus.Registerer) (*Collector, error) {
	if config.Connection == "" {
		config.Connection = util.NewLabel("collector")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	engineConfig := engine.Config()
	c := &Collector{
		config:  config,
		engine:  engine,
		stamper: responsetime.NewStamper(engineConfig.Mode, engineConfig.Resolution, clk),
		clock:   clk,
		tasks:   task.NewBackgroundTaskManager("relaybench_collector_", reg, clk),
	}
	if config.LogFile != "" {
		header := logfile.Header{
			Component:    "collector",
			Address:      config.Address,
			Connection:   config.Connection,
			StartTime:    clk.Now(),
			Mode:         engineConfig.Mode,
			Resolution:   engineConfig.Resolution,
			SamplingRate: config.SamplingRate,
		}
		w, err := logfile.Create(config.LogFile, header, codec.WithTimestamps(engineConfig.Mode.LogTimestamps()))
		if err != nil {
			return nil, errors.WithMessagef(err, "opening collector log %s", config.LogFile)
		}
		c.writer = w
	}
	return c, nil
}

func (c *Collector) Engine() *telemetry.Engine {
	return c.engine
}

// Handle is the relay.Handler of the collector. Under EndToEnd the logged record also carries the arrival stamp,
// so offline analysis measures against the same time in the same resolution as the online engine.
func (c *Collector) Handle(ctx *benchcontext.Context, connection string, r record.EventRecord) {
	arrival := c.stamper.Now()
	c.engine.Observe(ctx, connection, r, arrival)
	if c.writer == nil {
		return
	}
	if c.stamper.Mode() == responsetime.EndToEnd {
		r = r.WithTimestamps(arrival)
	}
	if err := c.writer.Write(c.clock.Now().UnixMilli(), r); err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("failed to write record to collector log")
	}
}

// Direct returns a sink delivering records straight to the collector under the given connection label.
func (c *Collector) Direct(connection string) *relay.Direct {
	return relay.NewDirect(connection, c.Handle)
}

// Start begins the periodic throughput evaluation and reporting.
func (c *Collector) Start(ctx *benchcontext.Context) {
	c.tasks.Register(c.engine.Tick, c.config.TickInterval, "tick")
	if c.config.ReportInterval > 0 {
		c.tasks.Register(func() { c.report(ctx.Log) }, c.config.ReportInterval, "report")
	}
}

func (c *Collector) report(log *logrus.Entry) {
	log.Infof("current statistics:\n%s", c.engine.Report())
}

// Serve starts the background tasks and feeds the records read by listener to the collector until ctx is
// cancelled. The listener must have been created with Handle as its handler and already be listening.
func (c *Collector) Serve(ctx *benchcontext.Context, listener *relay.Listener) error {
	c.Start(ctx)
	defer c.Stop(ctx)
	return listener.Serve(ctx)
}

// Stop halts the background tasks, logs a final report and closes the log file.
func (c *Collector) Stop(ctx *benchcontext.Context) {
	if c.tasks.StopAll(5 * time.Second) {
		ctx.Log.Warn("timed out waiting for background tasks to stop")
	}
	c.report(ctx.Log)
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("failed to close collector log")
		}
		c.writer = nil
	}
}
