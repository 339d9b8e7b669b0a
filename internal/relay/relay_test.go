package relay

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/record"
)

type received struct {
	connection string
	record     record.EventRecord
}

type collectingHandler struct {
	mu      sync.Mutex
	records []received
}

func (h *collectingHandler) handle(_ *benchcontext.Context, connection string, r record.EventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, received{connection: connection, record: r})
}

func (h *collectingHandler) snapshot() []received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]received(nil), h.records...)
}

func testCodec() *record.Codec {
	return record.NewCodec(",", record.Schema{"Quote": 2}, 0)
}

func TestListener_ReadsRecordsFromEveryWorker(t *testing.T) {
	handler := &collectingHandler{}
	metrics := NewMetrics(nil)
	listener := NewListener(testCodec(), handler.handle, metrics)
	require.NoError(t, listener.Listen([]Endpoint{{Address: "127.0.0.1:0", Parallelism: 2, Connection: "sources"}}))

	served := make(chan error, 1)
	go func() { served <- listener.Serve(benchcontext.Background()) }()

	addr := listener.Addrs()[0].String()
	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	_, err = first.Write([]byte("Quote,AAPL,101.5\nQuote,broken\n"))
	require.NoError(t, err)
	_, err = second.Write([]byte("Quote,MSFT,300.1\r\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(handler.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.malformed.WithLabelValues("sources")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	symbols := map[string]bool{}
	for _, r := range handler.snapshot() {
		assert.Equal(t, "sources", r.connection)
		symbols[r.record.Fields[0]] = true
	}
	assert.Equal(t, map[string]bool{"AAPL": true, "MSFT": true}, symbols)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.received.WithLabelValues("sources")))

	require.NoError(t, listener.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve didn't return after Close")
	}
}

func TestListener_CloseInterruptsBlockedReadsAndWaitsForHandlers(t *testing.T) {
	handlerStarted := make(chan struct{})
	releaseHandler := make(chan struct{})
	var handled bool
	handler := func(_ *benchcontext.Context, _ string, _ record.EventRecord) {
		close(handlerStarted)
		<-releaseHandler
		handled = true
	}
	listener := NewListener(testCodec(), handler, NewMetrics(nil))
	require.NoError(t, listener.Listen([]Endpoint{
		{Address: "127.0.0.1:0", Parallelism: 1},
		{Address: "127.0.0.1:0", Parallelism: 1},
	}))
	go func() { _ = listener.Serve(benchcontext.Background()) }()

	idle, err := net.Dial("tcp", listener.Addrs()[0].String())
	require.NoError(t, err)
	defer idle.Close()
	busy, err := net.Dial("tcp", listener.Addrs()[1].String())
	require.NoError(t, err)
	defer busy.Close()
	_, err = busy.Write([]byte("Quote,AAPL,1\n"))
	require.NoError(t, err)
	<-handlerStarted

	closed := make(chan struct{})
	go func() {
		_ = listener.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}
	close(releaseHandler)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close didn't return")
	}
	assert.True(t, handled)

	_, err = idle.Read(make([]byte, 1))
	assert.Error(t, err, "the idle connection is closed by the listener")
}

func TestListener_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	listener := NewListener(testCodec(), func(*benchcontext.Context, string, record.EventRecord) {}, NewMetrics(nil))
	err = listener.Listen([]Endpoint{{Address: "127.0.0.1:0"}, {Address: taken.Addr().String()}})
	assert.Error(t, err)
	assert.Empty(t, listener.Addrs())
}

// flakyConn fails the given number of writes before delegating to the wrapped connection.
type flakyConn struct {
	net.Conn
	failures int
}

func (c *flakyConn) Write(b []byte) (int, error) {
	if c.failures > 0 {
		c.failures--
		return 0, errors.New("connection reset by peer")
	}
	return c.Conn.Write(b)
}

// pipeSubscriber hands out connections whose remote ends are drained into lines.
type pipeSubscriber struct {
	mu     sync.Mutex
	dials  int
	lines  []string
	wg     sync.WaitGroup
	failOn func(dial int) int
}

func (s *pipeSubscriber) dial(_ context.Context, _ string) (net.Conn, error) {
	s.mu.Lock()
	s.dials++
	dial := s.dials
	s.mu.Unlock()

	local, remote := net.Pipe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scanner := bufio.NewScanner(remote)
		for scanner.Scan() {
			s.mu.Lock()
			s.lines = append(s.lines, scanner.Text())
			s.mu.Unlock()
		}
	}()
	return &flakyConn{Conn: local, failures: s.failOn(dial)}, nil
}

func (s *pipeSubscriber) received() []string {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

func TestPublisher_RetryThenDrop(t *testing.T) {
	recovering := &pipeSubscriber{failOn: func(dial int) int {
		if dial == 1 {
			return 1
		}
		return 0
	}}
	broken := &pipeSubscriber{failOn: func(int) int { return 1 }}
	dial := func(ctx context.Context, address string) (net.Conn, error) {
		if address == "recovering:1" {
			return recovering.dial(ctx, address)
		}
		return broken.dial(ctx, address)
	}

	logger, hook := test.NewNullLogger()
	metrics := NewMetrics(nil)
	publisher := NewPublisher(
		PublisherConfig{Subscribers: []string{"recovering:1", "broken:1"}},
		testCodec(),
		dial,
		metrics,
		logrus.NewEntry(logger),
	)

	require.NoError(t, publisher.Send(benchcontext.Background(), record.New("Quote", []string{"AAPL", "101.5"})))
	require.NoError(t, publisher.Close())

	assert.Equal(t, []string{"Quote,AAPL,101.5"}, recovering.received())
	assert.Empty(t, broken.received())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sent.WithLabelValues("recovering:1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.retried.WithLabelValues("recovering:1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.dropped.WithLabelValues("recovering:1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dropped.WithLabelValues("broken:1")))
	assert.Equal(t, 2, broken.dials)

	var errorsLogged int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			errorsLogged++
			assert.Equal(t, "broken:1", entry.Data["subscriber"])
		}
	}
	assert.Equal(t, 1, errorsLogged)
}

func TestPublisher_DropDoesNotAffectLaterRecords(t *testing.T) {
	sub := &pipeSubscriber{failOn: func(dial int) int {
		if dial <= 2 {
			return 1
		}
		return 0
	}}
	publisher := NewPublisher(
		PublisherConfig{Subscribers: []string{"sub:1"}},
		testCodec(),
		sub.dial,
		NewMetrics(nil),
		logrus.NewEntry(logrus.New()),
	)
	ctx := benchcontext.Background()
	require.NoError(t, publisher.Send(ctx, record.New("Quote", []string{"AAPL", "1"})))
	require.NoError(t, publisher.Send(ctx, record.New("Quote", []string{"AAPL", "2"})))
	require.NoError(t, publisher.Close())
	assert.Equal(t, []string{"Quote,AAPL,2"}, sub.received())
}

func TestPublisher_PreservesOrder(t *testing.T) {
	sub := &pipeSubscriber{failOn: func(int) int { return 0 }}
	publisher := NewPublisher(PublisherConfig{Subscribers: []string{"sub:1"}}, testCodec(), sub.dial, NewMetrics(nil), logrus.NewEntry(logrus.New()))
	ctx := benchcontext.Background()
	for _, price := range []string{"1", "2", "3"} {
		require.NoError(t, publisher.Send(ctx, record.New("Quote", []string{"AAPL", price})))
	}
	require.NoError(t, publisher.Close())
	assert.Equal(t, []string{"Quote,AAPL,1", "Quote,AAPL,2", "Quote,AAPL,3"}, sub.received())
	assert.Equal(t, 1, sub.dials)
}

func TestPublisher_CloseInterruptsBlockedWrite(t *testing.T) {
	var (
		mu     sync.Mutex
		remote []net.Conn
	)
	// The remote ends are never read, so every write blocks.
	dial := func(context.Context, string) (net.Conn, error) {
		local, r := net.Pipe()
		mu.Lock()
		remote = append(remote, r)
		mu.Unlock()
		return local, nil
	}
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range remote {
			_ = r.Close()
		}
	})

	metrics := NewMetrics(nil)
	publisher := NewPublisher(
		PublisherConfig{Subscribers: []string{"stalled:1"}, CloseTimeout: 50 * time.Millisecond},
		testCodec(),
		dial,
		metrics,
		nil,
	)
	require.NoError(t, publisher.Send(benchcontext.Background(), record.New("Quote", []string{"AAPL", "1"})))

	closed := make(chan error, 1)
	go func() { closed <- publisher.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while the subscriber was not reading")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dropped.WithLabelValues("stalled:1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.sent.WithLabelValues("stalled:1")))
}

func TestPublisher_SendAfterClose(t *testing.T) {
	sub := &pipeSubscriber{failOn: func(int) int { return 0 }}
	publisher := NewPublisher(PublisherConfig{Subscribers: []string{"sub:1"}}, testCodec(), sub.dial, NewMetrics(nil), nil)
	require.NoError(t, publisher.Close())

	err := publisher.Send(benchcontext.Background(), record.New("Quote", []string{"AAPL", "1"}))
	assert.ErrorIs(t, err, ErrPublisherClosed)
	require.NoError(t, publisher.Close())
	assert.Empty(t, sub.received())
	assert.Zero(t, sub.dials)
}

func TestPublisher_SendRacingClose(t *testing.T) {
	sub := &pipeSubscriber{failOn: func(int) int { return 0 }}
	publisher := NewPublisher(PublisherConfig{Subscribers: []string{"sub:1"}}, testCodec(), sub.dial, NewMetrics(nil), nil)

	var senders sync.WaitGroup
	for i := 0; i < 8; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()
			for j := 0; j < 20; j++ {
				err := publisher.Send(benchcontext.Background(), record.New("Quote", []string{"AAPL", "1"}))
				if err != nil {
					assert.ErrorIs(t, err, ErrPublisherClosed)
					return
				}
			}
		}()
	}
	require.NoError(t, publisher.Close())
	senders.Wait()
	sub.received()
}

func TestDirect(t *testing.T) {
	handler := &collectingHandler{}
	direct := NewDirect("in-process", handler.handle)
	r := record.New("Quote", []string{"AAPL", "1"}, 42)
	require.NoError(t, direct.Send(benchcontext.Background(), r))
	require.Len(t, handler.snapshot(), 1)
	assert.Equal(t, "in-process", handler.snapshot()[0].connection)
	assert.True(t, r.Equal(handler.snapshot()[0].record))
}

type failingSink struct{ closed bool }

func (s *failingSink) Send(*benchcontext.Context, record.EventRecord) error {
	return errors.New("unavailable")
}

func (s *failingSink) Close() error {
	s.closed = true
	return nil
}

func TestRouter(t *testing.T) {
	quotes := &collectingHandler{}
	others := &collectingHandler{}
	failing := &failingSink{}
	router := NewRouter(NewDirect("default", others.handle))
	router.Route("Quote", NewDirect("quotes", quotes.handle))
	router.Route("Trade", failing)
	router.Route("Silent")

	ctx := benchcontext.Background()
	require.NoError(t, router.Send(ctx, record.New("Quote", nil)))
	require.NoError(t, router.Send(ctx, record.New("Order", nil)))
	require.NoError(t, router.Send(ctx, record.New("Silent", nil)))
	assert.Error(t, router.Send(ctx, record.New("Trade", nil)))

	assert.Len(t, quotes.snapshot(), 1)
	assert.Len(t, others.snapshot(), 1)
	require.NoError(t, router.Close())
	assert.True(t, failing.closed)
}
