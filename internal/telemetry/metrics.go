package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "relaybench_stream_"
	statLabel    = "stat"
)

var (
	streamLabels = []string{"connection", "stream"}
	statLabels   = []string{"connection", "stream", statLabel}

	throughputDesc = prometheus.NewDesc(
		metricPrefix+"throughput",
		"Events per second, scaled back up by the sampling rate",
		statLabels, nil,
	)
	responseTimeDesc = prometheus.NewDesc(
		metricPrefix+"response_time_ms",
		"Response time in milliseconds",
		statLabels, nil,
	)
	eventsDesc = prometheus.NewDesc(
		metricPrefix+"events_total",
		"Events observed, scaled back up by the sampling rate",
		streamLabels, nil,
	)
	skewedDesc = prometheus.NewDesc(
		metricPrefix+"skewed_events_total",
		"Events whose response time was negative",
		streamLabels, nil,
	)
)

// Collector exposes the engine's live statistics to prometheus. Values are read from snapshots at scrape time.
type Collector struct {
	engine *Engine
}

func NewCollector(engine *Engine) *Collector {
	return &Collector{engine: engine}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- throughputDesc
	ch <- responseTimeDesc
	ch <- eventsDesc
	ch <- skewedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.engine.Snapshots() {
		labels := []string{s.Server, s.Stream}
		gauge := func(desc *prometheus.Desc, stat string, value float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, append(labels, stat)...)
		}
		gauge(throughputDesc, "current", s.Throughput.Current)
		gauge(throughputDesc, "avg", s.AvgThroughput())
		gauge(throughputDesc, "min", s.Throughput.Min)
		gauge(throughputDesc, "max", s.Throughput.Max)
		if s.RT.N > 0 {
			gauge(responseTimeDesc, "avg", s.AvgRT())
			gauge(responseTimeDesc, "min", s.MinRT)
			gauge(responseTimeDesc, "max", s.MaxRT)
			gauge(responseTimeDesc, "last", s.LastRT)
			gauge(responseTimeDesc, "stdev", s.StdevRT())
		}
		ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.CounterValue, s.TotalCount, labels...)
		ch <- prometheus.MustNewConstMetric(skewedDesc, prometheus.CounterValue, float64(s.Skewed), labels...)
	}
}
