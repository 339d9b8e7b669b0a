package stats

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Counter is the running aggregate of one stream on one connection. It is safe for concurrent use, but is
// normally mutated by a single worker; readers take snapshots rather than reading the live counter.
//
// TotalCount never decreases between resets and the response-time bounds only ever tighten.
type Counter struct {
	mu          sync.Mutex
	key         Key
	source      string
	totalCount  float64
	windowCount float64
	skewed      uint64
	rt          Moments
	minRT       float64
	maxRT       float64
	lastRT      float64
	lastRTAt    int64
	throughput  Throughput
}

// NewCounter creates a counter for stream on server. Source identifies the input the counter is fed from
// (e.g. the log file path) and is carried on every snapshot so merges can recognise repeated inputs.
func NewCounter(server, stream, source string) *Counter {
	return &Counter{key: Key{Server: server, Stream: stream}, source: source}
}

func (c *Counter) Stream() string {
	return c.key.Stream
}

func (c *Counter) Server() string {
	return c.key.Server
}

// Count adds weight events. Weight is 1/samplingRate when records are sub-sampled upstream.
func (c *Counter) Count(weight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCount += weight
	c.windowCount += weight
}

// CountSkewed notes an event whose response time was negative.
func (c *Counter) CountSkewed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skewed++
}

// ObserveResponseTime folds a non-negative response time, measured at the given timestamp, into the aggregates.
func (c *Counter) ObserveResponseTime(rt float64, at int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rt.N == 0 || rt < c.minRT {
		c.minRT = rt
	}
	if c.rt.N == 0 || rt > c.maxRT {
		c.maxRT = rt
	}
	c.rt = c.rt.Add(rt)
	c.lastRT = rt
	c.lastRTAt = at
}

// ObserveThroughput records a throughput estimate in events per second.
func (c *Counter) ObserveThroughput(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throughput = c.throughput.add(rate)
}

// Snapshot returns the current state without closing the bucket.
func (c *Counter) Snapshot(timestamp int64) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(timestamp)
}

// Refresh closes the current bucket of the given length in milliseconds: the bucket's event rate is recorded as a
// throughput observation, a snapshot is taken and the window count restarts from zero.
func (c *Counter) Refresh(timestamp int64, bucketMillis float64) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bucketMillis > 0 {
		c.throughput = c.throughput.add(c.windowCount * 1000 / bucketMillis)
	}
	s := c.snapshot(timestamp)
	c.windowCount = 0
	return s
}

func (c *Counter) snapshot(timestamp int64) Snapshot {
	key := c.key
	key.Timestamp = timestamp
	return Snapshot{
		Key:         key,
		TotalCount:  c.totalCount,
		WindowCount: c.windowCount,
		Skewed:      c.skewed,
		RT:          c.rt,
		MinRT:       c.minRT,
		MaxRT:       c.maxRT,
		LastRT:      c.lastRT,
		LastRTAt:    c.lastRTAt,
		Throughput:  c.throughput,
		Sources:     []string{c.source},
	}
}

// Reset zeroes the counter for a new measurement session, keeping its identity.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCount = 0
	c.windowCount = 0
	c.skewed = 0
	c.rt = Moments{}
	c.minRT, c.maxRT, c.lastRT, c.lastRTAt = 0, 0, 0, 0
	c.throughput = Throughput{}
}

// Clone returns an independent copy of the counter.
func (c *Counter) Clone() *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Counter{
		key:         c.key,
		source:      c.source,
		totalCount:  c.totalCount,
		windowCount: c.windowCount,
		skewed:      c.skewed,
		rt:          c.rt,
		minRT:       c.minRT,
		maxRT:       c.maxRT,
		lastRT:      c.lastRT,
		lastRTAt:    c.lastRTAt,
		throughput:  c.throughput,
	}
}

// SortSnapshots orders snapshots by key.
func SortSnapshots(snapshots []Snapshot) {
	slices.SortFunc(snapshots, func(a, b Snapshot) bool { return a.Key.Less(b.Key) })
}
