package analyzer

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/common/stringinterner"
	"github.com/relaybench/relaybench/internal/histogram"
	"github.com/relaybench/relaybench/internal/logfile"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/responsetime"
	"github.com/relaybench/relaybench/internal/stats"
	"github.com/relaybench/relaybench/internal/timeline"
)

const DefaultBucketMillis = 1000

type HistogramConfig struct {
	// Upper bound of the last bucket, in milliseconds. Longer response times are counted in the last bucket.
	MaxRT      float64 `validate:"gte=0"`
	BinWidth   float64 `validate:"gte=0"`
	Cumulative bool
}

type Config struct {
	Files     []string `validate:"required,min=1,dive,required"`
	Separator string
	Schema    record.Schema
	// Length of a bucket in milliseconds. Every stream is snapshotted at the end of each bucket.
	BucketMillis int64 `validate:"gte=0"`
	// Optional bounds, in epoch milliseconds, on the receipt timestamps to analyse. Zero means unbounded.
	StartTime int64
	EndTime   int64
	// Number of distinct stream and connection names kept interned.
	InternerCacheSize uint32
	Histogram         HistogramConfig
}

func (c Config) withDefaults() Config {
	if c.Separator == "" {
		c.Separator = record.DefaultSeparator
	}
	if c.BucketMillis <= 0 {
		c.BucketMillis = DefaultBucketMillis
	}
	if c.InternerCacheSize == 0 {
		c.InternerCacheSize = 1024
	}
	if c.Histogram.MaxRT <= 0 {
		c.Histogram.MaxRT = 1000
	}
	if c.Histogram.BinWidth <= 0 {
		c.Histogram.BinWidth = 10
	}
	return c
}

// FileSummary describes what the analysis made of one log file.
type FileSummary struct {
	Path      string
	Header    logfile.Header
	Records   uint64
	Malformed uint64
	Skewed    uint64
	// Records before the start of the requested window.
	Skipped uint64
	Err     error
}

// Result is the outcome of an analysis. It is returned even when some files failed; their errors are also
// reported on their summaries.
type Result struct {
	// Epoch millisecond bucket timestamps are measured from.
	Origin     int64
	Timeline   *timeline.Timeline
	Files      []FileSummary
	Histograms map[string]*histogram.Histogram
	Stopped    bool
}

// Analyzer replays recorded log files into a merged timeline of per-stream snapshots.
//
// Every file is read by its own worker into its own counters. At the end of each bucket the worker snapshots
// every stream it has seen and inserts the snapshots into the shared timeline, which merges snapshots of the same
// stream and bucket coming from different files.
type Analyzer struct {
	config   Config
	interner *stringinterner.StringInterner

	stopped  atomic.Bool
	progress []fileProgress

	histogramMu sync.Mutex
	histograms  map[string]*histogram.Histogram
}

type fileProgress struct {
	read atomic.Int64
	size atomic.Int64
}

func New(config Config) (*Analyzer, error) {
	config = config.withDefaults()
	if len(config.Files) == 0 {
		return nil, &bencherrors.ErrInvalidArgument{Name: "files", Value: config.Files, Message: "at least one log file is required"}
	}
	if config.EndTime != 0 && config.EndTime < config.StartTime {
		return nil, &bencherrors.ErrInvalidArgument{Name: "endTime", Value: config.EndTime, Message: "must not precede startTime"}
	}
	if _, err := histogram.New(0, config.Histogram.MaxRT, config.Histogram.BinWidth, config.Histogram.Cumulative); err != nil {
		return nil, err
	}
	interner, err := stringinterner.New(config.InternerCacheSize)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		config:     config,
		interner:   interner,
		progress:   make([]fileProgress, len(config.Files)),
		histograms: map[string]*histogram.Histogram{},
	}, nil
}

// Stop asks every worker to finish after the record it is processing. Snapshots taken so far are kept.
func (a *Analyzer) Stop() {
	a.stopped.Store(true)
}

// Progress returns the fraction of the input read so far, averaged over the files.
func (a *Analyzer) Progress() float64 {
	total := 0.0
	for i := range a.progress {
		size := a.progress[i].size.Load()
		if size <= 0 {
			continue
		}
		total += float64(a.progress[i].read.Load()) / float64(size)
	}
	return total / float64(len(a.progress))
}

// Run analyses every configured file concurrently and returns the merged timeline.
// Files that fail don't affect the others: their errors are combined into the returned error, which
// accompanies a result holding everything the remaining files contributed.
func (a *Analyzer) Run(ctx *benchcontext.Context) (*Result, error) {
	tl, err := timeline.New()
	if err != nil {
		return nil, err
	}
	origin := a.origin(ctx)
	ctx.Log.WithFields(logrus.Fields{"files": len(a.config.Files), "origin": origin}).Info("starting log analysis")

	summaries := make([]FileSummary, len(a.config.Files))
	g, gctx := benchcontext.ErrGroup(ctx)
	for i, path := range a.config.Files {
		i, path := i, path
		g.Go(func() error {
			fctx := benchcontext.WithLogField(gctx, "file", path)
			summaries[i] = a.analyseFile(fctx, i, path, origin, tl)
			return nil
		})
	}
	// Workers report their errors on their summaries.
	_ = g.Wait()

	var result *multierror.Error
	for _, s := range summaries {
		if s.Err != nil {
			result = multierror.Append(result, s.Err)
		}
	}

	a.histogramMu.Lock()
	histograms := maps.Clone(a.histograms)
	a.histogramMu.Unlock()
	return &Result{
		Origin:     origin,
		Timeline:   tl,
		Files:      summaries,
		Histograms: histograms,
		Stopped:    a.stopped.Load(),
	}, result.ErrorOrNil()
}

// origin is the requested start time or, if there is none, the earliest first record of any file.
func (a *Analyzer) origin(ctx *benchcontext.Context) int64 {
	if a.config.StartTime != 0 {
		return a.config.StartTime
	}
	var origin int64
	found := false
	for _, path := range a.config.Files {
		first, err := logfile.FirstTimestamp(path, a.config.Separator)
		if err != nil {
			// The worker reading this file reports anything that matters.
			ctx.Log.WithField("file", path).WithError(err).Debug("no first timestamp")
			continue
		}
		if !found || first < origin {
			origin, found = first, true
		}
	}
	if !found {
		ctx.Log.Warn("no log file has a readable first record; bucket timestamps are measured from the epoch")
	}
	return origin
}

// fileWorker holds the state of the worker replaying one file.
type fileWorker struct {
	*Analyzer
	ctx       *benchcontext.Context
	index     int
	origin    int64
	timeline  *timeline.Timeline
	counters  map[string]*stats.Counter
	bucketEnd int64
	summary   FileSummary
}

func (a *Analyzer) analyseFile(ctx *benchcontext.Context, index int, path string, origin int64, tl *timeline.Timeline) FileSummary {
	w := &fileWorker{
		Analyzer:  a,
		ctx:       ctx,
		index:     index,
		origin:    origin,
		timeline:  tl,
		counters:  map[string]*stats.Counter{},
		bucketEnd: origin + a.config.BucketMillis,
		summary:   FileSummary{Path: path},
	}
	if info, err := os.Stat(path); err == nil {
		a.progress[index].size.Store(info.Size())
	}
	err := w.run(path)
	if err != nil {
		ctx.Log.WithError(err).Error("log file analysis failed")
		w.summary.Err = err
	}
	// A failed or stopped file counts as done for progress.
	a.progress[index].read.Store(a.progress[index].size.Load())
	return w.summary
}

func (w *fileWorker) run(path string) error {
	r, err := logfile.Open(path, w.config.Separator, w.config.Schema)
	if err != nil {
		return err
	}
	defer r.Close()

	header := r.Header()
	header.Connection = w.interner.Intern(header.Connection)
	w.summary.Header = header
	weight := 1.0
	if header.SamplingRate > 0 {
		weight = 1 / header.SamplingRate
	}

	for !w.stopped.Load() {
		if err := w.ctx.Err(); err != nil {
			break
		}
		entry, err := r.Next()
		w.progress[w.index].read.Store(r.BytesRead())
		if err == io.EOF {
			break
		}
		if err != nil {
			var malformed *bencherrors.ErrMalformedRecord
			if errors.As(err, &malformed) {
				w.summary.Malformed++
				w.ctx.Log.WithError(err).Warn("skipping malformed record")
				continue
			}
			return err
		}

		receipt := entry.Receipt
		if receipt < w.config.StartTime {
			w.summary.Skipped++
			continue
		}
		if w.config.EndTime != 0 && receipt > w.config.EndTime {
			break
		}
		if receipt >= w.bucketEnd && len(w.counters) == 0 {
			// Nothing to snapshot yet, so skip straight to the bucket holding this record.
			w.bucketEnd += (receipt - w.bucketEnd) / w.config.BucketMillis * w.config.BucketMillis
		}
		for receipt >= w.bucketEnd {
			if err := w.flush(); err != nil {
				return err
			}
		}

		rec := entry.Record
		stream := w.interner.Intern(rec.Stream)
		counter, ok := w.counters[stream]
		if !ok {
			counter = stats.NewCounter(header.Connection, stream, path)
			w.counters[stream] = counter
		}
		w.summary.Records++
		counter.Count(weight)

		m, measured, err := responsetime.Measure(header.Mode, header.Resolution, rec, entry.Arrival)
		switch {
		case err != nil:
			w.summary.Skewed++
			counter.CountSkewed()
			w.ctx.Log.WithField("stream", stream).WithError(err).Warn("excluding negative response time")
		case measured:
			counter.ObserveResponseTime(m.Value, receipt)
			w.observeHistogram(stream, m.Value)
		}
	}

	if len(w.counters) > 0 {
		return w.flush()
	}
	return nil
}

// flush closes the current bucket: every stream seen so far is snapshotted into the timeline.
func (w *fileWorker) flush() error {
	timestamp := w.bucketEnd - w.origin
	streams := maps.Keys(w.counters)
	slices.Sort(streams)
	for _, stream := range streams {
		s := w.counters[stream].Refresh(timestamp, float64(w.config.BucketMillis))
		if _, err := w.timeline.Insert(s); err != nil {
			return err
		}
	}
	w.bucketEnd += w.config.BucketMillis
	return nil
}

func (a *Analyzer) observeHistogram(stream string, rt float64) {
	a.histogramMu.Lock()
	defer a.histogramMu.Unlock()
	h, ok := a.histograms[stream]
	if !ok {
		// The configuration was checked by New.
		h, _ = histogram.New(0, a.config.Histogram.MaxRT, a.config.Histogram.BinWidth, a.config.Histogram.Cumulative)
		a.histograms[stream] = h
	}
	h.Add(rt)
}
