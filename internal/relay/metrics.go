package relay

import "github.com/prometheus/client_golang/prometheus"

const (
	prefix          = "relaybench_relay_"
	connectionLabel = "connection"
	addressLabel    = "address"
)

// Metrics counts records moving through relays.
type Metrics struct {
	received  *prometheus.CounterVec
	malformed *prometheus.CounterVec
	sent      *prometheus.CounterVec
	retried   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewMetrics creates relay metrics and registers them with reg, unless reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "received_records_total",
				Help: "Number of records read from inbound connections",
			},
			[]string{connectionLabel},
		),
		malformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "malformed_records_total",
				Help: "Number of inbound records dropped because they could not be decoded",
			},
			[]string{connectionLabel},
		),
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "sent_records_total",
				Help: "Number of records written to subscribers",
			},
			[]string{addressLabel},
		),
		retried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "retried_sends_total",
				Help: "Number of subscriber sends retried after reopening the connection",
			},
			[]string{addressLabel},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "dropped_records_total",
				Help: "Number of records dropped after the retried send also failed",
			},
			[]string{addressLabel},
		),
	}
	if reg != nil {
		reg.MustRegister(m.received, m.malformed, m.sent, m.retried, m.dropped)
	}
	return m
}
