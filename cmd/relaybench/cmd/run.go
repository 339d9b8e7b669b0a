package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaybench/relaybench/internal/common"
	"github.com/relaybench/relaybench/internal/common/app"
	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/configuration"
	"github.com/relaybench/relaybench/internal/relay"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate records and collect the system's output in a single process",
		Long: "Generates records into the configured target and collects the records it emits. Without a target the " +
			"generator feeds the collector directly, which measures the harness itself.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return runBenchmark(app.CreateContextWithShutdown(), config)
		},
	}
	return cmd
}

func runBenchmark(ctx *benchcontext.Context, config configuration.Configuration) error {
	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	c, err := newCollector(config)
	if err != nil {
		return err
	}
	c.Start(ctx)
	defer c.Stop(ctx)

	sink := c.Direct("loopback")
	adapter, err := connectTarget(ctx, config, c.Handle, relay.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	if adapter == nil {
		return generate(ctx, config, sink)
	}
	defer disconnect(ctx, adapter)
	if err := generate(ctx, config, adapter); err != nil {
		return err
	}
	// The target may still be emitting records derived from the generated ones.
	ctx.Log.Info("generation finished, collecting until interrupted")
	<-ctx.Done()
	return nil
}
