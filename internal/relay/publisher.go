package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/record"
)

// A failed send is retried once on a freshly opened connection.
const sendAttempts = 2

// Dialer opens a connection to a subscriber.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// TCPDialer dials subscribers over TCP with the given timeout.
func TCPDialer(timeout time.Duration) Dialer {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, address string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", address)
	}
}

type PublisherConfig struct {
	Subscribers []string
	// Pause between closing a failed connection and reopening it.
	ReopenDelay time.Duration
	// How long Close lets in-flight writes run before interrupting them. Defaults to five seconds.
	CloseTimeout time.Duration
}

// ErrPublisherClosed is returned by Send once Close has been called.
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher forwards records to every subscriber address. Each subscriber is served by its own goroutine, which
// opens the connection on the first send. A failed write closes the connection, reopens it and retries the
// record once; if that fails too the record is dropped for that subscriber and an error is logged.
// There is no queue: Send blocks only while a subscriber's goroutine is still busy with the previous record.
type Publisher struct {
	codec        *record.Codec
	dial         Dialer
	metrics      *Metrics
	log          *logrus.Entry
	closeTimeout time.Duration
	subscribers  []*subscriber
	wg           sync.WaitGroup

	// Guards the subscriber connections and the close state.
	mu            sync.Mutex
	closed        bool
	closeDeadline time.Time
	done          chan struct{}
	closeOnce     sync.Once
}

type subscriber struct {
	address     string
	conn        net.Conn
	lines       chan []byte
	reopenDelay time.Duration
}

// NewPublisher starts a goroutine per subscriber. A nil log discards the publisher's log output.
func NewPublisher(config PublisherConfig, codec *record.Codec, dial Dialer, metrics *Metrics, log *logrus.Entry) *Publisher {
	if log == nil {
		log = logrus.NewEntry(logging.NullLogger)
	}
	closeTimeout := config.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 5 * time.Second
	}
	p := &Publisher{
		codec:        codec,
		dial:         dial,
		metrics:      metrics,
		log:          log,
		closeTimeout: closeTimeout,
		done:         make(chan struct{}),
	}
	for _, address := range config.Subscribers {
		s := &subscriber{
			address:     address,
			lines:       make(chan []byte),
			reopenDelay: config.ReopenDelay,
		}
		p.subscribers = append(p.subscribers, s)
		p.wg.Add(1)
		go p.run(s)
	}
	return p
}

// Send hands r to every subscriber. Delivery failures are handled per subscriber and never returned to the
// caller, so one broken subscriber doesn't affect the stream or the other subscribers. Send fails only if ctx
// is cancelled or the publisher is closed.
func (p *Publisher) Send(ctx *benchcontext.Context, r record.EventRecord) error {
	line := []byte(p.codec.Encode(r) + "\n")
	for _, s := range p.subscribers {
		select {
		case s.lines <- line:
		case <-p.done:
			return errors.WithStack(ErrPublisherClosed)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Publisher) run(s *subscriber) {
	defer p.wg.Done()
	log := p.log.WithField("subscriber", s.address)
	defer p.discard(s, nil, log)
	for {
		select {
		case line := <-s.lines:
			if err := p.deliver(s, log, line); err != nil {
				p.metrics.dropped.WithLabelValues(s.address).Inc()
				logging.WithStacktrace(log, err).Error("dropping record after retried send failed")
				continue
			}
			p.metrics.sent.WithLabelValues(s.address).Inc()
		case <-p.done:
			return
		}
	}
}

// connection returns the open connection of s, dialling one if there is none. Connections opened while the
// publisher is closing get the close deadline too.
func (p *Publisher) connection(s *subscriber) (net.Conn, error) {
	p.mu.Lock()
	conn := s.conn
	p.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	conn, err := p.dial(context.Background(), s.address)
	if err != nil {
		return nil, errors.WithStack(&bencherrors.ErrConnection{Address: s.address, Op: "dial", Cause: err})
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.SetWriteDeadline(p.closeDeadline)
	}
	s.conn = conn
	return conn, nil
}

// discard closes conn if it is still the connection of s. A nil conn closes whatever connection s holds.
func (p *Publisher) discard(s *subscriber, conn net.Conn, log *logrus.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.conn == nil || (conn != nil && s.conn != conn) {
		return
	}
	if err := s.conn.Close(); err != nil {
		log.WithError(err).Warn("failed to close subscriber connection cleanly")
	}
	s.conn = nil
}

// deliver writes line, reopening the connection and retrying once if the first attempt fails.
func (p *Publisher) deliver(s *subscriber, log *logrus.Entry, line []byte) error {
	return retry.Do(
		func() error {
			conn, err := p.connection(s)
			if err != nil {
				return err
			}
			if _, err := conn.Write(line); err != nil {
				p.discard(s, conn, log)
				return errors.WithStack(&bencherrors.ErrConnection{Address: s.address, Op: "write", Cause: err})
			}
			return nil
		},
		retry.Attempts(sendAttempts),
		retry.Delay(s.reopenDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= sendAttempts {
				return
			}
			p.metrics.retried.WithLabelValues(s.address).Inc()
			log.WithError(err).Warn("send failed; reopening connection")
		}),
	)
}

// Close stops accepting records, gives in-flight writes up to the close timeout to finish, interrupting any that
// are still blocked after that, and closes every subscriber connection.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.closeDeadline = time.Now().Add(p.closeTimeout)
		for _, s := range p.subscribers {
			if s.conn != nil {
				_ = s.conn.SetWriteDeadline(p.closeDeadline)
			}
		}
		p.mu.Unlock()
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

// Subscribers returns the addresses records are forwarded to.
func (p *Publisher) Subscribers() []string {
	addresses := make([]string, len(p.subscribers))
	for i, s := range p.subscribers {
		addresses[i] = s.address
	}
	return addresses
}
