package target

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
)

const SocketTarget = "socket"

type SocketConfig struct {
	// Address records on input streams are written to.
	Address string
	// Address the target's output is read from. Optional.
	ListenAddress string
	Parallelism   int
	DialTimeout   time.Duration
}

// SocketAdapter talks to a target over line framed TCP connections, in both directions.
type SocketAdapter struct {
	*base
	publisher *relay.Publisher
	listener  *relay.Listener
	served    sync.WaitGroup
	cancel    func()
}

func NewSocketAdapter(config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error) {
	if config.Socket.Address == "" && config.Socket.ListenAddress == "" {
		return nil, errors.New("socket target needs an address, a listen address or both")
	}
	return &SocketAdapter{base: newBase(config, handler, metrics)}, nil
}

func (a *SocketAdapter) Connect(ctx *benchcontext.Context) error {
	cfg := a.config.Socket
	if cfg.ListenAddress != "" {
		listener := relay.NewListener(a.currentCodec(), a.handler, a.metrics)
		err := listener.Listen([]relay.Endpoint{{
			Address:     cfg.ListenAddress,
			Parallelism: cfg.Parallelism,
			Connection:  a.config.Connection,
		}})
		if err != nil {
			return err
		}
		serveCtx, cancel := benchcontext.WithCancel(ctx)
		a.listener = listener
		a.cancel = cancel
		a.served.Add(1)
		go func() {
			defer a.served.Done()
			if err := listener.Serve(serveCtx); err != nil {
				serveCtx.Log.WithError(err).Error("socket target listener failed")
			}
		}()
	}
	if cfg.Address != "" {
		dialTimeout := cfg.DialTimeout
		if dialTimeout == 0 {
			dialTimeout = 5 * time.Second
		}
		a.publisher = relay.NewPublisher(
			relay.PublisherConfig{Subscribers: []string{cfg.Address}, ReopenDelay: a.config.ConnectBackoff},
			a.currentCodec(),
			relay.TCPDialer(dialTimeout),
			a.metrics,
			ctx.Log,
		)
	}
	return nil
}

func (a *SocketAdapter) Send(ctx *benchcontext.Context, r record.EventRecord) error {
	if a.publisher == nil {
		return errors.Errorf("socket target has no address to send %s records to", r.Stream)
	}
	return a.publisher.Send(ctx, r)
}

// ListenAddr returns the address output is read from once connected, or "" if the adapter doesn't listen.
func (a *SocketAdapter) ListenAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addrs()[0].String()
}

func (a *SocketAdapter) Disconnect() error {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.listener != nil {
		a.cancel()
		_ = a.listener.Close()
		a.served.Wait()
	}
	return nil
}
