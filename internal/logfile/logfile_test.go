package logfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/responsetime"
)

var testHeader = Header{
	Component:    "collector",
	Address:      "127.0.0.1:9000",
	Connection:   "engine",
	StartTime:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	Mode:         responsetime.EndToEnd,
	Resolution:   responsetime.Milliseconds,
	SamplingRate: 0.5,
}

func writeLog(t *testing.T, header Header, entries ...Entry) string {
	path := filepath.Join(t.TempDir(), "collector.log")
	w, err := Create(path, header, record.NewCodec(",", nil, header.Mode.LogTimestamps()))
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Write(e.Receipt, e.Record))
	}
	require.NoError(t, w.Close())
	return path
}

func TestHeader_RoundTrip(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, testHeader.write(&sb))
	assert.Equal(t, HeaderLines, strings.Count(sb.String(), "\n"))
	assert.Contains(t, sb.String(), "Response time measurement: END_TO_END\n")
	assert.Contains(t, sb.String(), "Response time resolution: MILLISECONDS\n")

	h, size, err := ReadHeader(bufio.NewReader(strings.NewReader(sb.String()+"1,Trade,1\n")), "x.log")
	require.NoError(t, err)
	assert.Equal(t, testHeader, h)
	assert.Equal(t, int64(sb.Len()), size)
}

func TestReadHeader_Invalid(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, testHeader.write(&sb))
	valid := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")

	tests := map[string]struct {
		line    int
		replace string
	}{
		"missing mode label":  {line: 5, replace: "Measurement: END_TO_END"},
		"unknown mode":        {line: 5, replace: "Response time measurement: ROUND_TRIP"},
		"unknown resolution":  {line: 6, replace: "Response time resolution: FORTNIGHTS"},
		"bad sampling rate":   {line: 7, replace: "Sampling rate: lots"},
		"zero sampling rate":  {line: 7, replace: "Sampling rate: 0"},
		"bad start time":      {line: 4, replace: "Start time: yesterday"},
		"missing separator":   {line: 8, replace: "1,Trade,1"},
		"missing component":   {line: 1, replace: "Alias: collector"},
		"missing connection":  {line: 3, replace: ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			lines := append([]string(nil), valid...)
			lines[tc.line-1] = tc.replace
			_, _, err := ReadHeader(bufio.NewReader(strings.NewReader(strings.Join(lines, "\n")+"\n")), "x.log")
			var invalid *bencherrors.ErrInvalidLogFile
			require.True(t, errors.As(err, &invalid), "expected ErrInvalidLogFile, got %v", err)
			assert.Equal(t, tc.line, invalid.Line)
			assert.Equal(t, "x.log", invalid.Path)
		})
	}

	_, _, err := ReadHeader(bufio.NewReader(strings.NewReader(strings.Join(valid[:3], "\n"))), "short.log")
	var invalid *bencherrors.ErrInvalidLogFile
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 4, invalid.Line)
}

func TestReader(t *testing.T) {
	path := writeLog(t, testHeader,
		Entry{Receipt: 1000, Record: record.New("Trade", []string{"AAPL", "1"}, 990, 1000)},
		Entry{Receipt: 1500, Record: record.New("Quote", []string{"MSFT"}, 1480, 1501)},
	)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("\nnot-a-timestamp,Trade,1\n2000,Trade,AAPL,2,1990,2000\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(path, ",", nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, testHeader, r.Header())

	var entries []Entry
	var malformed int
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if bencherrors.IsRecordScoped(err) {
			malformed++
			continue
		}
		require.NoError(t, err)
		entries = append(entries, e)
	}
	assert.Equal(t, 1, malformed)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(1000), entries[0].Receipt)
	assert.True(t, record.New("Trade", []string{"AAPL", "1"}, 990).Equal(entries[0].Record))
	assert.Equal(t, int64(1000), entries[0].Arrival)
	assert.True(t, record.New("Quote", []string{"MSFT"}, 1480).Equal(entries[1].Record))
	assert.Equal(t, int64(1501), entries[1].Arrival)
	assert.Equal(t, int64(2000), entries[2].Receipt)
	assert.Equal(t, r.Size(), r.BytesRead())
}

func TestFirstAndLastTimestamp(t *testing.T) {
	var entries []Entry
	// Enough records for the backwards scan to need several chunks.
	for i := 0; i < 2000; i++ {
		entries = append(entries, Entry{Receipt: int64(10_000 + i), Record: record.New("Trade", []string{fmt.Sprint(i)}, int64(i), int64(i+1))})
	}
	path := writeLog(t, testHeader, entries...)

	first, err := FirstTimestamp(path, ",")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), first)

	last, err := LastTimestamp(path, ",")
	require.NoError(t, err)
	assert.Equal(t, int64(11_999), last)

	first, err = FirstTimestamp(path, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), first)
}

func TestReader_NoArrivalOutsideEndToEnd(t *testing.T) {
	header := testHeader
	header.Mode = responsetime.Local
	path := writeLog(t, header, Entry{Receipt: 1000, Record: record.New("Trade", []string{"AAPL"}, 980, 990)})

	r, err := Open(path, "", nil)
	require.NoError(t, err)
	defer r.Close()
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Arrival)
	assert.Equal(t, []int64{980, 990}, e.Record.Timestamps)
}

func TestFirstAndLastTimestamp_NoRecords(t *testing.T) {
	path := writeLog(t, testHeader)
	_, err := FirstTimestamp(path, ",")
	assert.ErrorIs(t, err, ErrNoRecords)
	_, err = LastTimestamp(path, ",")
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestLastLine(t *testing.T) {
	long := strings.Repeat("x", 3*tailChunk)
	content := "a\n" + long + "\n\n"
	line, err := lastLine(strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, long, line)

	line, err = lastLine(strings.NewReader("only"), 4)
	require.NoError(t, err)
	assert.Equal(t, "only", line)
}
