package configuration

import (
	"time"

	"github.com/relaybench/relaybench/internal/analyzer"
	"github.com/relaybench/relaybench/internal/collector"
	commonconfig "github.com/relaybench/relaybench/internal/common/config"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/generator"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
	"github.com/relaybench/relaybench/internal/responsetime"
	"github.com/relaybench/relaybench/internal/target"
	"github.com/relaybench/relaybench/internal/telemetry"
	"github.com/relaybench/relaybench/internal/throughput"
)

type Configuration struct {
	Logging     logging.Config
	MetricsPort uint16
	// Settings every component of a run must agree on.
	Run RunConfig
	// Throughput estimation of the online telemetry engine.
	Telemetry TelemetryConfig
	Relay     RelayConfig
	Collector CollectorConfig
	Generator GeneratorConfig
	// The system under test. Nil when records are relayed over plain sockets only.
	Target   *target.Config
	Analyzer AnalyzerConfig
}

// Default returns the configuration that loaded files and environment variables are applied on top of.
func Default() Configuration {
	return Configuration{
		Logging:     logging.DefaultConfig(),
		MetricsPort: 9090,
		Run: RunConfig{
			Mode:       responsetime.EndToEnd,
			Resolution: responsetime.Milliseconds,
			Separator:  commonconfig.Delimiter(record.DefaultSeparator),
		},
		Telemetry: TelemetryConfig{
			WindowSize:      time.Second,
			EvaluationModel: throughput.TupleBased,
		},
		Relay: RelayConfig{
			DialTimeout: 5 * time.Second,
		},
		Collector: CollectorConfig{
			Config: collector.Config{
				SamplingRate:   1,
				TickInterval:   time.Second,
				ReportInterval: 10 * time.Second,
			},
		},
		Generator: GeneratorConfig{
			DialTimeout: 5 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			BucketMillis: analyzer.DefaultBucketMillis,
		},
	}
}

type RunConfig struct {
	Mode       responsetime.Mode
	Resolution responsetime.Resolution
	Separator  commonconfig.Delimiter
	// Payload arity per stream. Streams not listed accept any arity.
	Schema record.Schema
}

// Codec returns the codec records on the wire are encoded with.
func (c RunConfig) Codec() *record.Codec {
	return record.NewCodec(string(c.Separator), c.Schema, c.Mode.WireTimestamps())
}

type TelemetryConfig struct {
	WindowSize      time.Duration `validate:"gt=0"`
	EvaluationModel throughput.EvaluationModel
	SamplingRates   map[string]float64
}

type RelayConfig struct {
	Listen      []relay.Endpoint `validate:"dive"`
	Subscribers []string
	DialTimeout time.Duration
	ReopenDelay time.Duration
	// Forward records to these subscribers per stream instead of to Subscribers.
	Routes map[string][]string
}

type CollectorConfig struct {
	collector.Config `mapstructure:",squash"`
	Listen           []relay.Endpoint `validate:"dive"`
}

type GeneratorConfig struct {
	Streams []generator.StreamConfig `validate:"dive"`
	// Addresses generated records are sent to. Ignored when a target is configured.
	Subscribers []string
	DialTimeout time.Duration
	ReopenDelay time.Duration
}

type AnalyzerConfig struct {
	BucketMillis      int64 `validate:"gte=0"`
	StartTime         int64
	EndTime           int64
	InternerCacheSize uint32
	Histogram         analyzer.HistogramConfig
	// Optional output paths.
	ConsolidatedLog string
	Parquet         string
}

// TelemetryEngineConfig combines the run settings and the telemetry settings into the engine configuration.
func (c Configuration) TelemetryEngineConfig() telemetry.Config {
	return telemetry.Config{
		WindowSize:      c.Telemetry.WindowSize,
		EvaluationModel: c.Telemetry.EvaluationModel,
		SamplingRates:   c.Telemetry.SamplingRates,
		Mode:            c.Run.Mode,
		Resolution:      c.Run.Resolution,
	}
}

func (c Configuration) GeneratorConfig() generator.Config {
	return generator.Config{
		Streams:    c.Generator.Streams,
		Mode:       c.Run.Mode,
		Resolution: c.Run.Resolution,
	}
}

// AnalyzerConfig returns the analyzer configuration for the given log files.
func (c Configuration) AnalyzerConfig(files []string) analyzer.Config {
	return analyzer.Config{
		Files:             files,
		Separator:         string(c.Run.Separator),
		Schema:            c.Run.Schema,
		BucketMillis:      c.Analyzer.BucketMillis,
		StartTime:         c.Analyzer.StartTime,
		EndTime:           c.Analyzer.EndTime,
		InternerCacheSize: c.Analyzer.InternerCacheSize,
		Histogram:         c.Analyzer.Histogram,
	}
}

// TargetConfig returns the target configuration with the run's separator and schema filled in where the target
// doesn't set its own. It returns false if no target is configured.
func (c Configuration) TargetConfig() (target.Config, bool) {
	if c.Target == nil || c.Target.Target == "" {
		return target.Config{}, false
	}
	t := *c.Target
	if t.Separator == "" {
		t.Separator = c.Run.Separator
	}
	if t.Schema == nil {
		t.Schema = c.Run.Schema
	}
	return t, true
}
