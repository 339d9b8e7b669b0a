package target

import (
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
)

const NatsTarget = "nats"

type NatsConfig struct {
	Servers []string
	// Subjects are SubjectPrefix followed by the stream name.
	SubjectPrefix string
}

// NatsAdapter publishes input records to one subject per stream and subscribes to the subjects of the
// output streams.
type NatsAdapter struct {
	*base
	conn          *nats.Conn
	subscriptions []*nats.Subscription
}

func NewNatsAdapter(config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error) {
	if len(config.Nats.Servers) == 0 {
		return nil, errors.New("nats target needs at least one server")
	}
	return &NatsAdapter{base: newBase(config, handler, metrics)}, nil
}

func (a *NatsAdapter) subject(stream string) string {
	return a.config.Nats.SubjectPrefix + stream
}

func (a *NatsAdapter) Connect(ctx *benchcontext.Context) error {
	urls := strings.Join(a.config.Nats.Servers, ",")
	err := a.connectWithRetry(ctx, func() error {
		conn, err := nats.Connect(urls, nats.Name(a.config.Connection))
		if err != nil {
			return &bencherrors.ErrConnection{Address: urls, Op: "dial", Cause: err}
		}
		a.conn = conn
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}
	log := ctx.Log.WithField("connection", a.config.Connection)
	for _, stream := range a.config.OutputStreams {
		sub, err := a.conn.Subscribe(a.subject(stream), func(msg *nats.Msg) {
			a.deliver(ctx, string(msg.Data))
		})
		if err != nil {
			_ = a.Disconnect()
			return errors.WithStack(err)
		}
		log.Infof("subscribed to %s", sub.Subject)
		a.subscriptions = append(a.subscriptions, sub)
	}
	return errors.WithStack(a.conn.Flush())
}

func (a *NatsAdapter) Send(_ *benchcontext.Context, r record.EventRecord) error {
	if a.conn == nil {
		return errors.New("nats target is not connected")
	}
	if err := a.conn.Publish(a.subject(r.Stream), []byte(a.currentCodec().Encode(r))); err != nil {
		return errors.WithStack(&bencherrors.ErrConnection{Address: a.conn.ConnectedUrl(), Op: "publish", Cause: err})
	}
	return nil
}

func (a *NatsAdapter) Disconnect() error {
	if a.conn == nil {
		return nil
	}
	for _, sub := range a.subscriptions {
		_ = sub.Unsubscribe()
	}
	a.subscriptions = nil
	err := a.conn.Drain()
	a.conn = nil
	return errors.WithStack(err)
}
