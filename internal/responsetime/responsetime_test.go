package responsetime

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/record"
)

func TestParseMode(t *testing.T) {
	tests := map[string]struct {
		input   string
		want    Mode
		wantErr bool
	}{
		"none":        {input: "NONE", want: None},
		"end to end":  {input: "end-to-end", want: EndToEnd},
		"underscores": {input: "END_TO_END", want: EndToEnd},
		"local":       {input: " local ", want: Local},
		"unknown":     {input: "roundtrip", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseMode(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMode_WireTimestamps(t *testing.T) {
	assert.Equal(t, 0, None.WireTimestamps())
	assert.Equal(t, 1, EndToEnd.WireTimestamps())
	assert.Equal(t, 2, Local.WireTimestamps())

	assert.Equal(t, 0, None.LogTimestamps())
	assert.Equal(t, 2, EndToEnd.LogTimestamps())
	assert.Equal(t, 2, Local.LogTimestamps())
}

func TestCompute(t *testing.T) {
	assert.Equal(t, 10.0, Compute(90, 100, Milliseconds))
	assert.Equal(t, -10.0, Compute(100, 90, Milliseconds))
	assert.Equal(t, 1.5, Compute(0, 1_500_000, Nanoseconds))
}

func TestMeasure_NegativeIsReportedAsSkew(t *testing.T) {
	r := record.New("Trade", []string{"1"}, 100)
	m, ok, err := Measure(EndToEnd, Milliseconds, r, 90)
	require.True(t, ok)
	assert.Equal(t, -10.0, m.Value)
	var skew *bencherrors.ErrClockSkew
	require.True(t, errors.As(err, &skew))
	assert.Equal(t, int64(100), skew.Earlier)
	assert.Equal(t, int64(90), skew.Later)
}

func TestMeasure(t *testing.T) {
	tests := map[string]struct {
		mode    Mode
		record  record.EventRecord
		arrival int64
		ok      bool
		value   float64
	}{
		"none":               {mode: None, record: record.New("S", nil, 1), arrival: 5},
		"end to end":         {mode: EndToEnd, record: record.New("S", nil, 100), arrival: 110, ok: true, value: 10},
		"end to end missing": {mode: EndToEnd, record: record.New("S", nil), arrival: 110},
		"local":              {mode: Local, record: record.New("S", nil, 100, 103), ok: true, value: 3},
		"local missing":      {mode: Local, record: record.New("S", nil, 100)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, ok, err := Measure(tc.mode, Milliseconds, tc.record, tc.arrival)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.value, m.Value)
		})
	}
}

func TestStamper(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.UnixMilli(1000))

	endToEnd := NewStamper(EndToEnd, Milliseconds, fakeClock)
	stamped := endToEnd.StampEmission(record.New("Quote", []string{"AAPL"}))
	assert.Equal(t, []int64{1000}, stamped.Timestamps)

	none := NewStamper(None, Milliseconds, fakeClock)
	assert.Empty(t, none.StampEmission(record.New("Quote", nil)).Timestamps)

	local := NewStamper(Local, Nanoseconds, fakeClock)
	out := local.StampLocal(record.New("Quote", []string{"AAPL"}, 7), func(r record.EventRecord) record.EventRecord {
		fakeClock.Step(2 * time.Millisecond)
		return record.New("Quote", append(r.Fields, "processed"), r.Timestamps...)
	})
	assert.Equal(t, []string{"AAPL", "processed"}, out.Fields)
	assert.Equal(t, []int64{1_000_000_000, 1_002_000_000}, out.Timestamps)

	m, ok, err := Measure(Local, Nanoseconds, out, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, m.Value)
}
