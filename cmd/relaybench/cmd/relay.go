package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common"
	"github.com/relaybench/relaybench/internal/common/app"
	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/common/util"
	"github.com/relaybench/relaybench/internal/configuration"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
	"github.com/relaybench/relaybench/internal/responsetime"
)

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Accept records on the configured endpoints and forward them to the subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return runRelay(app.CreateContextWithShutdown(), config)
		},
	}
	return cmd
}

// newRouter builds a router forwarding to config.Subscribers by default and to the configured routes per stream.
// Every address gets a single publisher, however many streams are routed to it.
func newRouter(ctx *benchcontext.Context, config configuration.RelayConfig, codec *record.Codec, metrics *relay.Metrics) *relay.Router {
	dial := relay.TCPDialer(config.DialTimeout)
	publishers := map[string]*relay.Publisher{}
	publisherFor := func(address string) relay.Sink {
		if p, ok := publishers[address]; ok {
			return p
		}
		p := relay.NewPublisher(
			relay.PublisherConfig{Subscribers: []string{address}, ReopenDelay: config.ReopenDelay},
			codec, dial, metrics, ctx.Log.WithField("subscriber", address))
		publishers[address] = p
		return p
	}

	var defaults []relay.Sink
	for _, address := range config.Subscribers {
		defaults = append(defaults, publisherFor(address))
	}
	router := relay.NewRouter(defaults...)
	for stream, addresses := range config.Routes {
		for _, address := range addresses {
			router.Route(stream, publisherFor(address))
		}
	}
	return router
}

func runRelay(ctx *benchcontext.Context, config configuration.Configuration) error {
	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)
	codec := config.Run.Codec()
	router := newRouter(ctx, config.Relay, codec, metrics)
	defer util.CloseResource("router", router)

	// Under Local the relay is the component being measured. It receives records without timestamps and
	// forwards them carrying its own receipt and forwarding times.
	inbound := codec
	if config.Run.Mode == responsetime.Local {
		inbound = codec.WithTimestamps(0)
	}
	stamper := responsetime.NewStamper(config.Run.Mode, config.Run.Resolution, clock.RealClock{})
	forward := func(ctx *benchcontext.Context, connection string, r record.EventRecord) {
		out := stamper.StampLocal(r, func(r record.EventRecord) record.EventRecord { return r })
		if err := router.Send(ctx, out); err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("failed to forward record")
		}
	}

	listener := relay.NewListener(inbound, forward, metrics)
	if err := listener.Listen(config.Relay.Listen); err != nil {
		return err
	}
	ctx.Log.Infof("relaying records from %v", listener.Addrs())
	return listener.Serve(ctx)
}
