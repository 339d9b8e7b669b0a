package target

import (
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	commonconfig "github.com/relaybench/relaybench/internal/common/config"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
	"github.com/relaybench/relaybench/internal/responsetime"
)

// Adapter is the narrow contract between the telemetry core and a system under test. Records sent to an adapter
// are delivered on its input streams; records the system emits on its output streams are passed to the
// handler the adapter was created with.
type Adapter interface {
	Connect(ctx *benchcontext.Context) error
	Disconnect() error
	Send(ctx *benchcontext.Context, r record.EventRecord) error
	ReceiveStreamList() []record.Stream
	SetResponseTimeMode(mode responsetime.Mode, resolution responsetime.Resolution)
}

type Config struct {
	// Identifier of the adapter to use, e.g. "socket", "nats", "redis" or "pulsar".
	Target string `validate:"required"`
	// Label attached to records read back from the target.
	Connection    string
	InputStreams  []string
	OutputStreams []string
	Separator     commonconfig.Delimiter
	// Payload arity per stream. Streams not listed accept any arity.
	Schema          record.Schema
	ConnectAttempts uint
	ConnectBackoff  time.Duration
	Socket          SocketConfig
	Nats            NatsConfig
	Redis           RedisConfig
	Pulsar          PulsarConfig
}

// Factory creates an unconnected adapter.
type Factory func(config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error)

// Registry selects adapters by target identifier.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// NewDefaultRegistry returns a registry holding every built-in adapter.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SocketTarget, NewSocketAdapter)
	r.Register(NatsTarget, NewNatsAdapter)
	r.Register(RedisTarget, NewRedisAdapter)
	r.Register(PulsarTarget, NewPulsarAdapter)
	return r
}

func (r *Registry) Register(target string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[target] = factory
}

// Targets returns the registered target identifiers in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := maps.Keys(r.factories)
	slices.Sort(targets)
	return targets
}

// New creates the adapter for config.Target, returning *ErrUnsupportedTarget if none is registered.
func (r *Registry) New(config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[config.Target]
	r.mu.RUnlock()
	if !ok {
		return nil, &bencherrors.ErrUnsupportedTarget{Target: config.Target, Available: r.Targets()}
	}
	return factory(config, handler, metrics)
}

// Connect creates the adapter for config.Target and connects it.
func (r *Registry) Connect(ctx *benchcontext.Context, config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error) {
	adapter, err := r.New(config, handler, metrics)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// base holds what every adapter shares: stream lists, codec and handler.
type base struct {
	config  Config
	handler relay.Handler
	metrics *relay.Metrics

	mu         sync.RWMutex
	codec      *record.Codec
	mode       responsetime.Mode
	resolution responsetime.Resolution
}

func newBase(config Config, handler relay.Handler, metrics *relay.Metrics) *base {
	if config.Connection == "" {
		config.Connection = config.Target
	}
	if metrics == nil {
		metrics = relay.NewMetrics(nil)
	}
	return &base{
		config:  config,
		handler: handler,
		metrics: metrics,
		codec:   record.NewCodec(string(config.Separator), config.Schema, 0),
	}
}

func (b *base) ReceiveStreamList() []record.Stream {
	streams := make([]record.Stream, 0, len(b.config.InputStreams)+len(b.config.OutputStreams))
	for _, name := range b.config.InputStreams {
		streams = append(streams, record.Stream{Name: name, Direction: record.Input})
	}
	for _, name := range b.config.OutputStreams {
		streams = append(streams, record.Stream{Name: name, Direction: record.Output})
	}
	record.SortStreams(streams)
	return streams
}

// SetResponseTimeMode sets the number of timestamps records read back from the target are expected to carry.
func (b *base) SetResponseTimeMode(mode responsetime.Mode, resolution responsetime.Resolution) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
	b.resolution = resolution
	b.codec = b.codec.WithTimestamps(mode.WireTimestamps())
}

func (b *base) currentCodec() *record.Codec {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.codec
}

// deliver decodes a line read back from the target and passes it on, dropping it if it is malformed.
func (b *base) deliver(ctx *benchcontext.Context, line string) {
	r, err := b.currentCodec().Decode(line)
	if err != nil {
		ctx.Log.WithError(err).WithField("connection", b.config.Connection).Warn("dropping malformed record")
		return
	}
	b.handler(ctx, b.config.Connection, r)
}

// connectWithRetry runs connect until it succeeds or the configured attempts are used up.
func (b *base) connectWithRetry(ctx *benchcontext.Context, connect func() error) error {
	attempts := b.config.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		connect,
		retry.Attempts(attempts),
		retry.Delay(b.config.ConnectBackoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("connecting to %s target failed (attempt %d)", b.config.Target, n+1)
		}),
	)
}
