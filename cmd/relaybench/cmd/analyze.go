package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/relaybench/relaybench/internal/analyzer"
	"github.com/relaybench/relaybench/internal/common/app"
	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/configuration"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <log file>...",
		Short: "Merge collector log files into a timeline of per-stream statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("start") {
				if config.Analyzer.StartTime, err = flags.GetInt64("start"); err != nil {
					return err
				}
			}
			if flags.Changed("end") {
				if config.Analyzer.EndTime, err = flags.GetInt64("end"); err != nil {
					return err
				}
			}
			if flags.Changed("bucket") {
				bucket, err := flags.GetDuration("bucket")
				if err != nil {
					return err
				}
				config.Analyzer.BucketMillis = bucket.Milliseconds()
			}
			if flags.Changed("consolidated") {
				if config.Analyzer.ConsolidatedLog, err = flags.GetString("consolidated"); err != nil {
					return err
				}
			}
			if flags.Changed("parquet") {
				if config.Analyzer.Parquet, err = flags.GetString("parquet"); err != nil {
					return err
				}
			}
			histograms, err := flags.GetBool("histograms")
			if err != nil {
				return err
			}
			return analyze(app.CreateContextWithShutdown(), cmd, config, args, histograms)
		},
	}
	cmd.Flags().Int64("start", 0, "Ignore records received before this epoch millisecond timestamp")
	cmd.Flags().Int64("end", 0, "Ignore records received after this epoch millisecond timestamp")
	cmd.Flags().Duration("bucket", time.Second, "Length of the buckets snapshots are taken at")
	cmd.Flags().String("consolidated", "", "Write the merged timeline as a consolidated log to this path")
	cmd.Flags().String("parquet", "", "Write the merged timeline as a parquet file to this path")
	cmd.Flags().Bool("histograms", false, "Print the response-time histogram of every stream")
	return cmd
}

func analyze(ctx *benchcontext.Context, cmd *cobra.Command, config configuration.Configuration, files []string, histograms bool) error {
	a, err := analyzer.New(config.AnalyzerConfig(files))
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx.Log.Infof("analysis %.0f%% complete", 100*a.Progress())
			case <-done:
				return
			}
		}
	}()

	result, runErr := a.Run(ctx)
	if result == nil {
		return runErr
	}
	if result.Stopped {
		ctx.Log.Warn("analysis stopped before reaching the end of every file")
	}

	out := cmd.OutOrStdout()
	report, err := result.Report()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, report)
	if histograms {
		streams := maps.Keys(result.Histograms)
		slices.Sort(streams)
		for _, stream := range streams {
			if table, ok := result.HistogramReport(stream); ok {
				fmt.Fprintf(out, "%s\n%s\n", stream, table)
			}
		}
	}

	if config.Analyzer.ConsolidatedLog != "" || config.Analyzer.Parquet != "" {
		snapshots, err := result.Timeline.Snapshots()
		if err != nil {
			return err
		}
		if path := config.Analyzer.ConsolidatedLog; path != "" {
			if err := analyzer.WriteConsolidatedLog(path, string(config.Run.Separator), result.Origin, snapshots); err != nil {
				return err
			}
			ctx.Log.Infof("wrote consolidated log to %s", path)
		}
		if path := config.Analyzer.Parquet; path != "" {
			if err := analyzer.WriteParquet(path, snapshots); err != nil {
				return err
			}
			ctx.Log.Infof("wrote %d snapshots to %s", len(snapshots), path)
		}
	}
	return runErr
}
