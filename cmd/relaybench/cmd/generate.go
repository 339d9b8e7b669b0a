package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/common"
	"github.com/relaybench/relaybench/internal/common/app"
	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/util"
	"github.com/relaybench/relaybench/internal/configuration"
	"github.com/relaybench/relaybench/internal/generator"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Emit synthetic records to the target or to the configured subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return runGenerator(app.CreateContextWithShutdown(), config)
		},
	}
	return cmd
}

func discard(*benchcontext.Context, string, record.EventRecord) {}

func runGenerator(ctx *benchcontext.Context, config configuration.Configuration) error {
	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)
	var sink relay.Sink
	adapter, err := connectTarget(ctx, config, discard, metrics)
	if err != nil {
		return err
	}
	if adapter != nil {
		defer disconnect(ctx, adapter)
		sink = adapter
	} else {
		publisher := relay.NewPublisher(
			relay.PublisherConfig{Subscribers: config.Generator.Subscribers, ReopenDelay: config.Generator.ReopenDelay},
			config.Run.Codec(), relay.TCPDialer(config.Generator.DialTimeout), metrics, ctx.Log)
		defer util.CloseResource("publisher", publisher)
		sink = publisher
	}
	return generate(ctx, config, sink)
}

func generate(ctx *benchcontext.Context, config configuration.Configuration, sink relay.Sink) error {
	g, err := generator.New(config.GeneratorConfig(), sink, clock.RealClock{})
	if err != nil {
		return err
	}
	err = g.Run(ctx)
	for _, s := range config.Generator.Streams {
		generated, sent := g.Stats(s.Name)
		ctx.Log.Infof("stream %s: generated %d records, sent %d", s.Name, generated, sent)
	}
	return err
}
