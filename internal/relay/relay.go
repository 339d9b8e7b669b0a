package relay

import (
	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/record"
)

// Handler consumes a record read by a relay. It runs on the goroutine serving the connection the record arrived
// on, so a slow handler only stalls that connection.
type Handler func(ctx *benchcontext.Context, connection string, r record.EventRecord)

// Sink is anything records can be pushed into: a socket publisher, an in-process consumer or a target adapter.
type Sink interface {
	Send(ctx *benchcontext.Context, r record.EventRecord) error
}

// Direct hands records straight to a handler, bypassing sockets, when source and consumer share a process.
// Records are passed as stamped by the source, so response-time measurement is unchanged.
type Direct struct {
	connection string
	handler    Handler
}

func NewDirect(connection string, handler Handler) *Direct {
	return &Direct{connection: connection, handler: handler}
}

func (d *Direct) Send(ctx *benchcontext.Context, r record.EventRecord) error {
	d.handler(ctx, d.connection, r)
	return nil
}
