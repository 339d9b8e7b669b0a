package relay

import (
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/record"
)

// Router forwards each record to the sinks registered for its stream, or to the default sinks if the stream
// has none. A stream may have no sinks at all, in which case its records are discarded.
type Router struct {
	routes   map[string][]Sink
	defaults []Sink
}

func NewRouter(defaults ...Sink) *Router {
	return &Router{routes: map[string][]Sink{}, defaults: defaults}
}

// Route adds sinks for stream.
func (r *Router) Route(stream string, sinks ...Sink) {
	r.routes[stream] = append(r.routes[stream], sinks...)
}

func (r *Router) Send(ctx *benchcontext.Context, rec record.EventRecord) error {
	sinks, ok := r.routes[rec.Stream]
	if !ok {
		sinks = r.defaults
	}
	var result *multierror.Error
	for _, sink := range sinks {
		if err := sink.Send(ctx, rec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes every distinct sink that implements io.Closer.
func (r *Router) Close() error {
	seen := map[Sink]bool{}
	var result *multierror.Error
	closeSinks := func(sinks []Sink) {
		for _, sink := range sinks {
			if seen[sink] {
				continue
			}
			seen[sink] = true
			if closer, ok := sink.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}
	for _, sinks := range r.routes {
		closeSinks(sinks)
	}
	closeSinks(r.defaults)
	return result.ErrorOrNil()
}
