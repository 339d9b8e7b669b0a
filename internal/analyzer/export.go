package analyzer

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/relaybench/relaybench/internal/common/util"
	"github.com/relaybench/relaybench/internal/logfile"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/responsetime"
	"github.com/relaybench/relaybench/internal/stats"
)

// ConsolidatedFields names the fields following the stream name on each line of a consolidated log.
var ConsolidatedFields = []string{
	"server", "totalCount", "windowCount", "skewed",
	"throughput", "avgThroughput", "minThroughput", "maxThroughput",
	"avgRT", "minRT", "maxRT", "stdevRT", "lastRT",
}

// WriteConsolidatedLog writes snapshots to a single log file at path. It uses the layout of recorded logs: each
// line holds a bucket timestamp in place of the receipt time, followed by the stream name and its statistics.
func WriteConsolidatedLog(path string, separator string, origin int64, snapshots []stats.Snapshot) error {
	header := logfile.Header{
		Component:    "analyzer",
		Connection:   "consolidated",
		StartTime:    time.UnixMilli(origin),
		Mode:         responsetime.None,
		Resolution:   responsetime.Milliseconds,
		SamplingRate: 1,
	}
	w, err := logfile.Create(path, header, record.NewCodec(separator, nil, 0))
	if err != nil {
		return err
	}
	for _, s := range snapshots {
		if err := w.Write(s.Timestamp, record.New(s.Stream, consolidatedFields(s))); err != nil {
			util.CloseResource("consolidated log", w)
			return err
		}
	}
	return w.Close()
}

func consolidatedFields(s stats.Snapshot) []string {
	f := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return []string{
		s.Server,
		f(s.TotalCount),
		f(s.WindowCount),
		strconv.FormatUint(s.Skewed, 10),
		f(s.Throughput.Current),
		f(s.AvgThroughput()),
		f(s.Throughput.Min),
		f(s.Throughput.Max),
		f(s.AvgRT()),
		f(s.MinRT),
		f(s.MaxRT),
		f(s.StdevRT()),
		f(s.LastRT),
	}
}

// SnapshotRow is the parquet representation of a snapshot.
type SnapshotRow struct {
	Ts            int64   `parquet:"name=ts, type=INT64"`
	Stream        string  `parquet:"name=stream, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Server        string  `parquet:"name=server, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TotalCount    float64 `parquet:"name=total_count, type=DOUBLE"`
	WindowCount   float64 `parquet:"name=window_count, type=DOUBLE"`
	Skewed        int64   `parquet:"name=skewed, type=INT64"`
	Throughput    float64 `parquet:"name=throughput, type=DOUBLE"`
	AvgThroughput float64 `parquet:"name=avg_throughput, type=DOUBLE"`
	MinThroughput float64 `parquet:"name=min_throughput, type=DOUBLE"`
	MaxThroughput float64 `parquet:"name=max_throughput, type=DOUBLE"`
	AvgRT         float64 `parquet:"name=avg_rt, type=DOUBLE"`
	MinRT         float64 `parquet:"name=min_rt, type=DOUBLE"`
	MaxRT         float64 `parquet:"name=max_rt, type=DOUBLE"`
	StdevRT       float64 `parquet:"name=stdev_rt, type=DOUBLE"`
	Sources       string  `parquet:"name=sources, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toRow(s stats.Snapshot) SnapshotRow {
	return SnapshotRow{
		Ts:            s.Timestamp,
		Stream:        s.Stream,
		Server:        s.Server,
		TotalCount:    s.TotalCount,
		WindowCount:   s.WindowCount,
		Skewed:        int64(s.Skewed),
		Throughput:    s.Throughput.Current,
		AvgThroughput: s.AvgThroughput(),
		MinThroughput: s.Throughput.Min,
		MaxThroughput: s.Throughput.Max,
		AvgRT:         s.AvgRT(),
		MinRT:         s.MinRT,
		MaxRT:         s.MaxRT,
		StdevRT:       s.StdevRT(),
		Sources:       strings.Join(s.Sources, ","),
	}
}

// WriteParquet writes snapshots to a parquet file at path, one row per snapshot.
func WriteParquet(path string, snapshots []stats.Snapshot) error {
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errors.Wrapf(err, "creating parquet file %s", path)
	}
	pw, err := writer.NewParquetWriter(file, new(SnapshotRow), 4)
	if err != nil {
		_ = file.Close()
		return errors.Wrap(err, "creating parquet writer")
	}
	for _, s := range snapshots {
		if err := pw.Write(toRow(s)); err != nil {
			_ = file.Close()
			return errors.Wrap(err, "writing snapshot row")
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = file.Close()
		return errors.Wrap(err, "stopping parquet writer")
	}
	return errors.WithStack(file.Close())
}
