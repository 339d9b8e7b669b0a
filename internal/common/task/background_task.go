package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

type task struct {
	function    func()
	interval    time.Duration
	stopChannel chan struct{}
	latency     prometheus.Observer
}

// BackgroundTaskManager runs functions periodically on their own goroutines.
// It is not threadsafe and should only be accessed from a single goroutine.
type BackgroundTaskManager struct {
	tasks   []*task
	clock   clock.Clock
	latency *prometheus.HistogramVec
	wg      sync.WaitGroup
}

// NewBackgroundTaskManager creates a manager whose task latencies are registered with reg under the given prefix.
// A nil reg disables registration.
func NewBackgroundTaskManager(metricsPrefix string, reg prometheus.Registerer, clk clock.Clock) *BackgroundTaskManager {
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricsPrefix + "background_task_latency_seconds",
			Help:    "Background task latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"task"},
	)
	if reg != nil {
		reg.MustRegister(latency)
	}
	return &BackgroundTaskManager{clock: clk, latency: latency}
}

// Register starts running backgroundTask every interval until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	t := &task{
		function:    backgroundTask,
		interval:    interval,
		stopChannel: make(chan struct{}),
		latency:     m.latency.WithLabelValues(name),
	}
	m.tasks = append(m.tasks, t)
	m.wg.Add(1)
	go m.run(t)
}

func (m *BackgroundTaskManager) run(t *task) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopChannel:
			return
		case <-ticker.C():
			start := m.clock.Now()
			t.function()
			t.latency.Observe(m.clock.Since(start).Seconds())
		}
	}
}

// StopAll stops every task and waits up to timeout for them to exit. It returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, t := range m.tasks {
		close(t.stopChannel)
	}
	m.tasks = nil
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
