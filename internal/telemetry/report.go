package telemetry

import (
	"fmt"

	"github.com/relaybench/relaybench/internal/common/util"
)

// Report renders the current statistics of every observed pair as a tab aligned table.
func (e *Engine) Report() string {
	sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	sb.Row("CONNECTION", "STREAM", "COUNT", "THROUGHPUT", "AVG", "MIN", "MAX", "RT AVG", "RT MIN", "RT MAX", "RT LAST", "RT STDEV", "SKEWED")
	for _, s := range e.Snapshots() {
		sb.Row(
			s.Server,
			s.Stream,
			fmt.Sprintf("%.0f", s.TotalCount),
			fmt.Sprintf("%.2f", s.Throughput.Current),
			fmt.Sprintf("%.2f", s.AvgThroughput()),
			fmt.Sprintf("%.2f", s.Throughput.Min),
			fmt.Sprintf("%.2f", s.Throughput.Max),
			fmt.Sprintf("%.3f", s.AvgRT()),
			fmt.Sprintf("%.3f", s.MinRT),
			fmt.Sprintf("%.3f", s.MaxRT),
			fmt.Sprintf("%.3f", s.LastRT),
			fmt.Sprintf("%.3f", s.StdevRT()),
			s.Skewed,
		)
	}
	return sb.String()
}
