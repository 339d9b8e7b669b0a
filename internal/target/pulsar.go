package target

import (
	"context"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	pulsarlog "github.com/apache/pulsar-client-go/pulsar/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
)

const PulsarTarget = "pulsar"

type PulsarConfig struct {
	URL string
	// Topics are TopicPrefix followed by the stream name.
	TopicPrefix      string
	SubscriptionName string
	ReceiveTimeout   time.Duration
}

// PulsarAdapter produces input records to one topic per stream and consumes the topics of the output streams
// through a single exclusive subscription.
type PulsarAdapter struct {
	*base
	client pulsar.Client

	mu        sync.Mutex
	producers map[string]pulsar.Producer

	consumer pulsar.Consumer
	cancel   func()
	wg       sync.WaitGroup
}

func NewPulsarAdapter(config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error) {
	if config.Pulsar.URL == "" {
		return nil, errors.New("pulsar target needs a url")
	}
	if config.Pulsar.SubscriptionName == "" {
		config.Pulsar.SubscriptionName = "relaybench-" + config.Target
	}
	if config.Pulsar.ReceiveTimeout <= 0 {
		config.Pulsar.ReceiveTimeout = time.Second
	}
	return &PulsarAdapter{base: newBase(config, handler, metrics), producers: map[string]pulsar.Producer{}}, nil
}

func (a *PulsarAdapter) topic(stream string) string {
	return a.config.Pulsar.TopicPrefix + stream
}

func (a *PulsarAdapter) Connect(ctx *benchcontext.Context) error {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:    a.config.Pulsar.URL,
		Logger: pulsarlog.NewLoggerWithLogrus(logrus.StandardLogger()),
	})
	if err != nil {
		return errors.WithStack(&bencherrors.ErrConnection{Address: a.config.Pulsar.URL, Op: "dial", Cause: err})
	}
	a.client = client
	if len(a.config.OutputStreams) == 0 {
		return nil
	}

	topics := make([]string, len(a.config.OutputStreams))
	for i, stream := range a.config.OutputStreams {
		topics[i] = a.topic(stream)
	}
	err = a.connectWithRetry(ctx, func() error {
		consumer, err := client.Subscribe(pulsar.ConsumerOptions{
			Topics:           topics,
			SubscriptionName: a.config.Pulsar.SubscriptionName,
			Type:             pulsar.Exclusive,
		})
		if err != nil {
			return &bencherrors.ErrConnection{Address: a.config.Pulsar.URL, Op: "subscribe", Cause: err}
		}
		a.consumer = consumer
		return nil
	})
	if err != nil {
		client.Close()
		a.client = nil
		return errors.WithStack(err)
	}

	receiveCtx, cancel := benchcontext.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.receive(receiveCtx)
	}()
	return nil
}

// receive passes consumed messages on until ctx is cancelled.
func (a *PulsarAdapter) receive(ctx *benchcontext.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		receiveCtx, cancel := benchcontext.WithTimeout(ctx, a.config.Pulsar.ReceiveTimeout)
		msg, err := a.consumer.Receive(receiveCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
				logging.WithStacktrace(ctx.Log, err).Warn("receiving from pulsar failed")
			}
			continue
		}
		a.consumer.Ack(msg)
		a.deliver(ctx, string(msg.Payload()))
	}
}

func (a *PulsarAdapter) producer(stream string) (pulsar.Producer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.producers[stream]; ok {
		return p, nil
	}
	p, err := a.client.CreateProducer(pulsar.ProducerOptions{Topic: a.topic(stream)})
	if err != nil {
		return nil, errors.WithStack(&bencherrors.ErrConnection{Address: a.config.Pulsar.URL, Op: "create producer", Cause: err})
	}
	a.producers[stream] = p
	return p, nil
}

func (a *PulsarAdapter) Send(ctx *benchcontext.Context, r record.EventRecord) error {
	if a.client == nil {
		return errors.New("pulsar target is not connected")
	}
	p, err := a.producer(r.Stream)
	if err != nil {
		return err
	}
	_, err = p.Send(ctx, &pulsar.ProducerMessage{Payload: []byte(a.currentCodec().Encode(r))})
	if err != nil {
		return errors.WithStack(&bencherrors.ErrConnection{Address: a.config.Pulsar.URL, Op: "send", Cause: err})
	}
	return nil
}

func (a *PulsarAdapter) Disconnect() error {
	if a.client == nil {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
	if a.consumer != nil {
		a.consumer.Close()
	}
	a.mu.Lock()
	for _, p := range a.producers {
		p.Close()
	}
	a.producers = map[string]pulsar.Producer{}
	a.mu.Unlock()
	a.client.Close()
	a.client = nil
	return nil
}
