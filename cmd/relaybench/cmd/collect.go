package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/relaybench/relaybench/internal/collector"
	"github.com/relaybench/relaybench/internal/common"
	"github.com/relaybench/relaybench/internal/common/app"
	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/configuration"
	"github.com/relaybench/relaybench/internal/relay"
	"github.com/relaybench/relaybench/internal/target"
	"github.com/relaybench/relaybench/internal/telemetry"
)

func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Receive records, report live statistics and log them for offline analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return runCollector(app.CreateContextWithShutdown(), config)
		},
	}
	return cmd
}

// newCollector creates a collector whose engine is exported as prometheus metrics.
func newCollector(config configuration.Configuration) (*collector.Collector, error) {
	engine, err := telemetry.NewEngine(config.TelemetryEngineConfig(), clock.RealClock{})
	if err != nil {
		return nil, err
	}
	if err := prometheus.Register(telemetry.NewCollector(engine)); err != nil {
		return nil, err
	}
	return collector.New(config.Collector.Config, engine, config.Run.Codec(), clock.RealClock{}, prometheus.DefaultRegisterer)
}

// connectTarget connects the adapter of the configured target, passing the records it emits to handler.
// It returns nil if no target is configured.
func connectTarget(ctx *benchcontext.Context, config configuration.Configuration, handler relay.Handler, metrics *relay.Metrics) (target.Adapter, error) {
	targetConfig, ok := config.TargetConfig()
	if !ok {
		return nil, nil
	}
	adapter, err := target.NewDefaultRegistry().New(targetConfig, handler, metrics)
	if err != nil {
		return nil, err
	}
	adapter.SetResponseTimeMode(config.Run.Mode, config.Run.Resolution)
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	ctx.Log.Infof("connected to %s target", targetConfig.Target)
	return adapter, nil
}

func disconnect(ctx *benchcontext.Context, adapter target.Adapter) {
	if err := adapter.Disconnect(); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("failed to disconnect from target")
	}
}

func runCollector(ctx *benchcontext.Context, config configuration.Configuration) error {
	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	c, err := newCollector(config)
	if err != nil {
		return err
	}
	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)

	adapter, err := connectTarget(ctx, config, c.Handle, metrics)
	if err != nil {
		c.Stop(ctx)
		return err
	}
	if adapter != nil {
		defer disconnect(ctx, adapter)
		c.Start(ctx)
		<-ctx.Done()
		c.Stop(ctx)
		return nil
	}

	listener := relay.NewListener(config.Run.Codec(), c.Handle, metrics)
	if err := listener.Listen(config.Collector.Listen); err != nil {
		c.Stop(ctx)
		return err
	}
	ctx.Log.Infof("collecting records from %v", listener.Addrs())
	return c.Serve(ctx, listener)
}
