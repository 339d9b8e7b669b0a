package record

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := map[string]struct {
		codec  *Codec
		record EventRecord
		line   string
	}{
		"no timestamps": {
			codec:  NewCodec(",", Schema{"Quote": 2}, 0),
			record: New("Quote", []string{"AAPL", "101.5"}),
			line:   "Quote,AAPL,101.5",
		},
		"one timestamp": {
			codec:  NewCodec(",", Schema{"Quote": 2}, 1),
			record: New("Quote", []string{"AAPL", "101.5"}, 1700000000000),
			line:   "Quote,AAPL,101.5,1700000000000",
		},
		"two timestamps, tab separated": {
			codec:  NewCodec("\t", Schema{"Trade": 1}, 2),
			record: New("Trade", []string{"42"}, 10, 12),
			line:   "Trade\t42\t10\t12",
		},
		"no payload": {
			codec:  NewCodec(",", Schema{"Tick": 0}, 1),
			record: New("Tick", nil, 5),
			line:   "Tick,5",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			line := tc.codec.Encode(tc.record)
			assert.Equal(t, tc.line, line)
			decoded, err := tc.codec.Decode(line)
			require.NoError(t, err)
			assert.True(t, tc.record.Equal(decoded), "expected %+v, got %+v", tc.record, decoded)
		})
	}
}

func TestCodec_Decode_UnknownStreamInfersArity(t *testing.T) {
	codec := NewCodec(",", nil, 1)
	decoded, err := codec.Decode("Order,1,2,3,99\n")
	require.NoError(t, err)
	assert.Equal(t, "Order", decoded.Stream)
	assert.Equal(t, []string{"1", "2", "3"}, decoded.Fields)
	assert.Equal(t, []int64{99}, decoded.Timestamps)
}

func TestCodec_Decode_Malformed(t *testing.T) {
	codec := NewCodec(",", Schema{"Quote": 2}, 1)
	tests := map[string]string{
		"empty":                "",
		"missing field":        "Quote,AAPL,1",
		"delimiter in payload": "Quote,AA,PL,101.5,1",
		"bad timestamp":        "Quote,AAPL,101.5,yesterday",
		"unknown stream no ts": "Order",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(line)
			var malformed *bencherrors.ErrMalformedRecord
			assert.True(t, errors.As(err, &malformed), "expected ErrMalformedRecord, got %v", err)
			assert.True(t, bencherrors.IsRecordScoped(err))
		})
	}
}

func TestCodec_Decode_ReportsFieldCounts(t *testing.T) {
	codec := NewCodec(",", Schema{"Quote": 2}, 0)
	_, err := codec.Decode("Quote,AAPL")
	var malformed *bencherrors.ErrMalformedRecord
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "Quote", malformed.Stream)
	assert.Equal(t, 3, malformed.Expected)
	assert.Equal(t, 2, malformed.Actual)
}

func TestEventRecord_WithTimestampsDoesNotAlias(t *testing.T) {
	original := New("Quote", []string{"AAPL"}, 1)
	stamped := original.WithTimestamps(2)
	stamped.Fields[0] = "MSFT"
	assert.Equal(t, []int64{1}, original.Timestamps)
	assert.Equal(t, []int64{1, 2}, stamped.Timestamps)
	assert.Equal(t, "AAPL", original.Fields[0])
	assert.Empty(t, stamped.WithoutTimestamps().Timestamps)
}

func TestStream_Ordering(t *testing.T) {
	streams := []Stream{
		{Name: "Trade", Direction: Output},
		{Name: "Quote", Direction: Output},
		{Name: "Trade", Direction: Input},
	}
	SortStreams(streams)
	assert.Equal(t, []Stream{
		{Name: "Quote", Direction: Output},
		{Name: "Trade", Direction: Input},
		{Name: "Trade", Direction: Output},
	}, streams)
}

func TestDirection_UnmarshalText(t *testing.T) {
	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("Output")))
	assert.Equal(t, Output, d)
	assert.Error(t, d.UnmarshalText([]byte("sideways")))
}
