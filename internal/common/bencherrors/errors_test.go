package bencherrors

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsRecordScoped(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"ErrMalformedRecord":                {&ErrMalformedRecord{}, true},
		"ErrClockSkew":                      {&ErrClockSkew{}, true},
		"pkg.Error => ErrMalformedRecord":   {errors.WithMessage(&ErrMalformedRecord{}, "foo"), true},
		"pkg.Error => ErrClockSkew":         {errors.WithStack(&ErrClockSkew{}), true},
		"ErrConnection":                     {&ErrConnection{Address: "localhost:1", Op: "dial", Cause: io.EOF}, false},
		"ErrInvalidLogFile":                 {&ErrInvalidLogFile{}, false},
		"pkg.Error":                         {errors.New("foo"), false},
		"nil":                               {nil, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRecordScoped(tc.err))
		})
	}
}

func TestErrConnection_Unwrap(t *testing.T) {
	err := errors.WithStack(&ErrConnection{Address: "localhost:9000", Op: "write", Cause: io.ErrClosedPipe})
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, "write localhost:9000: io: read/write on closed pipe", errors.Cause(err).Error())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(
		t,
		`malformed record for stream "Quote": expected 3 fields but found 2`,
		(&ErrMalformedRecord{Stream: "Quote", Expected: 3, Actual: 2}).Error(),
	)
	assert.Equal(
		t,
		"invalid log file a.log (line 5): missing response time mode",
		(&ErrInvalidLogFile{Path: "a.log", Line: 5, Message: "missing response time mode"}).Error(),
	)
	assert.Equal(
		t,
		`value -1 is invalid for field "windowSize"; must be positive`,
		(&ErrInvalidArgument{Name: "windowSize", Value: -1, Message: "must be positive"}).Error(),
	)
}
