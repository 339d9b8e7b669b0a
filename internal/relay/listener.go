package relay

import (
	"bufio"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/record"
)

const maxLineBytes = 1024 * 1024

// Endpoint is an address to accept connections on, served by Parallelism workers.
type Endpoint struct {
	Address string `validate:"required"`
	// Number of sources expected to connect concurrently; one worker is started for each.
	Parallelism int `validate:"gte=1"`
	// Label attached to records read from this endpoint. Defaults to the address.
	Connection string
}

// Listener reads line framed records from inbound connections and passes them to a Handler.
// Within a connection records are handled in arrival order; there is no ordering across connections.
type Listener struct {
	codec   *record.Codec
	handler Handler
	metrics *Metrics

	mu        sync.Mutex
	closed    bool
	listeners []boundListener
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

type boundListener struct {
	net.Listener
	endpoint Endpoint
}

func NewListener(codec *record.Codec, handler Handler, metrics *Metrics) *Listener {
	return &Listener{
		codec:   codec,
		handler: handler,
		metrics: metrics,
		conns:   map[net.Conn]struct{}{},
	}
}

// Listen binds every endpoint. Nothing is accepted until Serve is called.
func (l *Listener) Listen(endpoints []Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("listener is closed")
	}
	for _, endpoint := range endpoints {
		if endpoint.Parallelism < 1 {
			endpoint.Parallelism = 1
		}
		ln, err := net.Listen("tcp", endpoint.Address)
		if err != nil {
			for _, bound := range l.listeners {
				_ = bound.Close()
			}
			l.listeners = nil
			return errors.WithStack(&bencherrors.ErrConnection{Address: endpoint.Address, Op: "listen", Cause: err})
		}
		if endpoint.Connection == "" {
			endpoint.Connection = ln.Addr().String()
		}
		l.listeners = append(l.listeners, boundListener{Listener: ln, endpoint: endpoint})
	}
	return nil
}

// Addrs returns the bound addresses, in the order the endpoints were given.
func (l *Listener) Addrs() []net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	addrs := make([]net.Addr, len(l.listeners))
	for i, ln := range l.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Serve runs the workers of every bound endpoint until ctx is cancelled or Close is called.
func (l *Listener) Serve(ctx *benchcontext.Context) error {
	l.mu.Lock()
	listeners := l.listeners
	l.mu.Unlock()

	g, gctx := benchcontext.ErrGroup(ctx)
	for _, ln := range listeners {
		ln := ln
		for i := 0; i < ln.endpoint.Parallelism; i++ {
			workerCtx := benchcontext.WithLogFields(gctx, logrus.Fields{
				"connection": ln.endpoint.Connection,
				"worker":     i,
			})
			g.Go(func() error {
				return l.work(workerCtx, ln)
			})
		}
	}
	go func() {
		<-gctx.Done()
		_ = l.Close()
	}()
	err := g.Wait()
	_ = l.Close()
	return err
}

// work accepts connections one at a time and serves each until it ends.
func (l *Listener) work(ctx *benchcontext.Context, ln boundListener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.WithStacktrace(ctx.Log, err).Error("failed to accept connection")
			continue
		}
		if !l.track(conn) {
			_ = conn.Close()
			return nil
		}
		l.serve(ctx, ln.endpoint.Connection, conn)
		l.untrack(conn)
	}
}

func (l *Listener) serve(ctx *benchcontext.Context, connection string, conn net.Conn) {
	defer l.wg.Done()
	log := ctx.Log.WithField("remote", conn.RemoteAddr().String())
	log.Info("accepted connection")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r, err := l.codec.Decode(line)
		if err != nil {
			l.metrics.malformed.WithLabelValues(connection).Inc()
			log.WithError(err).Warn("dropping malformed record")
			continue
		}
		l.metrics.received.WithLabelValues(connection).Inc()
		l.handler(ctx, connection, r)
	}
	if err := scanner.Err(); err != nil && !l.isClosed() {
		err = &bencherrors.ErrConnection{Address: conn.RemoteAddr().String(), Op: "read", Cause: err}
		logging.WithStacktrace(log, err).Error("connection failed")
		return
	}
	log.Info("connection closed")
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	_ = conn.Close()
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops accepting connections and closes live ones, interrupting blocked reads. It waits for handlers that
// are already running to return, so it must not be called from within a Handler.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.wg.Wait()
		return nil
	}
	l.closed = true
	for _, ln := range l.listeners {
		_ = ln.Close()
	}
	for conn := range l.conns {
		_ = conn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
