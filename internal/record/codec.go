package record

import (
	"strconv"
	"strings"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
)

const DefaultSeparator = ","

// Schema maps a stream name to the number of payload fields its records carry.
type Schema map[string]int

// Arity returns the payload arity of the named stream.
func (s Schema) Arity(stream string) (int, bool) {
	arity, ok := s[stream]
	return arity, ok
}

// Codec converts records to and from single delimited text lines:
//
//	streamName<sep>field1<sep>...<sep>fieldN[<sep>timestamp...]
//
// Delimiters inside payload values are not escaped. A value containing the separator will therefore
// decode as extra fields and be rejected; the log format depends on this layout so it is left as is.
type Codec struct {
	separator  string
	schema     Schema
	timestamps int
}

// NewCodec returns a codec expecting the given number of trailing timestamps on every record.
// Streams missing from schema accept any payload arity.
func NewCodec(separator string, schema Schema, timestamps int) *Codec {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Codec{separator: separator, schema: schema, timestamps: timestamps}
}

func (c *Codec) Separator() string {
	return c.separator
}

// Timestamps returns the number of trailing timestamps the codec expects.
func (c *Codec) Timestamps() int {
	return c.timestamps
}

// WithTimestamps returns a codec sharing this codec's separator and schema but expecting n timestamps.
func (c *Codec) WithTimestamps(n int) *Codec {
	return &Codec{separator: c.separator, schema: c.schema, timestamps: n}
}

// Encode renders r as a line without a trailing newline.
func (c *Codec) Encode(r EventRecord) string {
	var sb strings.Builder
	sb.WriteString(r.Stream)
	for _, f := range r.Fields {
		sb.WriteString(c.separator)
		sb.WriteString(f)
	}
	for _, ts := range r.Timestamps {
		sb.WriteString(c.separator)
		sb.WriteString(strconv.FormatInt(ts, 10))
	}
	return sb.String()
}

// Decode parses a line produced by Encode. Timestamps are taken from the right-hand end of the line and
// the remainder is checked against the stream's payload arity.
func (c *Codec) Decode(line string) (EventRecord, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return EventRecord{}, &bencherrors.ErrMalformedRecord{Line: line, Message: "empty line"}
	}
	parts := strings.Split(line, c.separator)
	stream := parts[0]
	values := parts[1:]

	arity, known := c.schema.Arity(stream)
	if !known {
		arity = len(values) - c.timestamps
		if arity < 0 {
			arity = 0
		}
	}
	if len(values) != arity+c.timestamps {
		return EventRecord{}, &bencherrors.ErrMalformedRecord{
			Stream:   stream,
			Line:     line,
			Expected: 1 + arity + c.timestamps,
			Actual:   len(parts),
		}
	}

	var timestamps []int64
	if c.timestamps > 0 {
		timestamps = make([]int64, c.timestamps)
		for i, raw := range values[arity:] {
			ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return EventRecord{}, &bencherrors.ErrMalformedRecord{
					Stream:  stream,
					Line:    line,
					Message: "invalid timestamp " + strconv.Quote(raw),
				}
			}
			timestamps[i] = ts
		}
	}

	var fields []string
	if arity > 0 {
		fields = values[:arity:arity]
	}
	return EventRecord{Stream: stream, Fields: fields, Timestamps: timestamps}, nil
}
