package generator

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/common/util"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
	"github.com/relaybench/relaybench/internal/responsetime"
)

// Placeholders that may appear in a payload template.
const (
	IdPlaceholder       = "$id"
	SequencePlaceholder = "$seq"
	TimePlaceholder     = "$time"
)

type StreamConfig struct {
	Name string `validate:"required"`
	// Payload template. Placeholders are replaced on every record; anything else is copied verbatim.
	Fields []string
	// Records per second. Zero emits as fast as the sink accepts them.
	Rate  float64 `validate:"gte=0"`
	Burst int     `validate:"gte=0"`
	// Number of records to emit. Zero emits until the context is cancelled.
	Count uint64
	// Fraction of generated records actually sent. The consumer scales its counts back up by the same factor.
	SamplingRate float64 `validate:"gte=0,lte=1"`
}

type Config struct {
	Streams    []StreamConfig `validate:"dive"`
	Mode       responsetime.Mode
	Resolution responsetime.Resolution
}

// Generator emits synthetic records for each configured stream into a sink, stamping emission times for
// end-to-end response-time measurement.
type Generator struct {
	config  Config
	sink    relay.Sink
	stamper *responsetime.Stamper
	streams []*stream
}

type stream struct {
	config    StreamConfig
	limiter   *rate.Limiter
	generated atomic.Uint64
	sent      atomic.Uint64
}

// sampled reports whether the seq'th generated record is sent. Exactly floor(n*SamplingRate) of the first n
// records are.
func (s *stream) sampled(seq uint64) bool {
	fraction := s.config.SamplingRate
	return uint64(float64(seq)*fraction) > uint64(float64(seq-1)*fraction)
}

func New(config Config, sink relay.Sink, clk clock.PassiveClock) (*Generator, error) {
	g := &Generator{
		config:  config,
		sink:    sink,
		stamper: responsetime.NewStamper(config.Mode, config.Resolution, clk),
	}
	for _, sc := range config.Streams {
		if sc.Name == "" {
			return nil, &bencherrors.ErrInvalidArgument{Name: "streams.name", Value: sc.Name, Message: "must not be empty"}
		}
		if sc.SamplingRate < 0 || sc.SamplingRate > 1 {
			return nil, &bencherrors.ErrInvalidArgument{Name: "streams." + sc.Name + ".samplingRate", Value: sc.SamplingRate, Message: "must be in [0, 1]"}
		}
		if sc.SamplingRate == 0 {
			sc.SamplingRate = 1
		}
		limit := rate.Inf
		if sc.Rate > 0 {
			limit = rate.Limit(sc.Rate)
		}
		burst := sc.Burst
		if burst <= 0 {
			burst = 1
		}
		g.streams = append(g.streams, &stream{config: sc, limiter: rate.NewLimiter(limit, burst)})
	}
	return g, nil
}

// Run emits records on every stream concurrently until each stream has reached its count or ctx is cancelled.
// Within a stream records are sent in generation order.
func (g *Generator) Run(ctx *benchcontext.Context) error {
	eg, gctx := benchcontext.ErrGroup(ctx)
	for _, s := range g.streams {
		s := s
		eg.Go(func() error {
			return g.emit(benchcontext.WithLogField(gctx, "stream", s.config.Name), s)
		})
	}
	return eg.Wait()
}

func (g *Generator) emit(ctx *benchcontext.Context, s *stream) error {
	ctx.Log.WithFields(logrus.Fields{"rate": s.config.Rate, "count": s.config.Count}).Info("generating records")
	for s.config.Count == 0 || s.generated.Load() < s.config.Count {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WithStack(err)
		}
		seq := s.generated.Add(1)
		if !s.sampled(seq) {
			continue
		}
		r := g.stamper.StampEmission(record.New(s.config.Name, g.payload(s.config.Fields, seq)))
		if err := g.sink.Send(ctx, r); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.sent.Add(1)
	}
	return nil
}

func (g *Generator) payload(template []string, seq uint64) []string {
	fields := make([]string, len(template))
	for i, f := range template {
		switch {
		case f == IdPlaceholder:
			fields[i] = util.NewULID()
		case f == SequencePlaceholder:
			fields[i] = strconv.FormatUint(seq, 10)
		case f == TimePlaceholder:
			fields[i] = strconv.FormatInt(g.stamper.Now(), 10)
		case strings.HasPrefix(f, `\$`):
			fields[i] = f[1:]
		default:
			fields[i] = f
		}
	}
	return fields
}

// Stats returns the number of records generated and sent so far on stream.
func (g *Generator) Stats(name string) (generated, sent uint64) {
	for _, s := range g.streams {
		if s.config.Name == name {
			return s.generated.Load(), s.sent.Load()
		}
	}
	return 0, 0
}
