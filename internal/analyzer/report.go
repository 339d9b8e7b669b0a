package analyzer

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/relaybench/relaybench/internal/common/util"
)

// Report renders a per-file summary followed by the last snapshot of every stream.
func (r *Result) Report() (string, error) {
	sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	sb.Row("FILE", "CONNECTION", "MODE", "RECORDS", "MALFORMED", "SKEWED", "STATUS")
	for _, f := range r.Files {
		status := "ok"
		if f.Err != nil {
			status = f.Err.Error()
		}
		sb.Row(f.Path, f.Header.Connection, f.Header.Mode, f.Records, f.Malformed, f.Skewed, status)
	}
	sb.Writef("\n")

	sb.Row("STREAM", "SERVER", "T", "COUNT", "AVG THROUGHPUT", "RT AVG", "RT MIN", "RT MAX", "RT STDEV")
	streams, err := r.Timeline.Streams()
	if err != nil {
		return "", err
	}
	for _, stream := range streams {
		snapshots, err := r.Timeline.Stream(stream)
		if err != nil {
			return "", err
		}
		// The last snapshot of each server holds its totals.
		last := map[string]int{}
		for i, s := range snapshots {
			last[s.Server] = i
		}
		servers := maps.Keys(last)
		slices.Sort(servers)
		for _, server := range servers {
			s := snapshots[last[server]]
			sb.Row(
				s.Stream,
				s.Server,
				s.Timestamp,
				fmt.Sprintf("%.0f", s.TotalCount),
				fmt.Sprintf("%.2f", s.AvgThroughput()),
				fmt.Sprintf("%.3f", s.AvgRT()),
				fmt.Sprintf("%.3f", s.MinRT),
				fmt.Sprintf("%.3f", s.MaxRT),
				fmt.Sprintf("%.3f", s.StdevRT()),
			)
		}
	}
	return sb.String(), nil
}

// HistogramReport renders the response-time histogram of stream as a frequency table.
func (r *Result) HistogramReport(stream string) (string, bool) {
	h, ok := r.Histograms[stream]
	if !ok {
		return "", false
	}
	sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	sb.Row("RT >=", "FREQUENCY")
	for _, b := range h.FrequencyTable() {
		sb.Row(fmt.Sprintf("%.3f", b.LowerBound), fmt.Sprintf("%.4f", b.Frequency))
	}
	return sb.String(), true
}
