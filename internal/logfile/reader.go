package logfile

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/record"
)

// ErrNoRecords is returned by the timestamp lookups for a log file holding a header only.
var ErrNoRecords = errors.New("log file has no records")

// Entry is a record read back from a log file together with the epoch millisecond it was received.
type Entry struct {
	Receipt int64
	// Arrival time stamped by the collector in the run's resolution. Only logs of EndToEnd runs carry one;
	// it is zero otherwise.
	Arrival int64
	Record  record.EventRecord
}

// Reader streams the records of a log file.
type Reader struct {
	path      string
	file      *os.File
	in        *bufio.Reader
	header    Header
	codec     *record.Codec
	separator string
	size      int64
	bytesRead int64
	line      int
}

// Open opens the log file at path and validates its header. Records are split on separator; the number of
// trailing timestamps each record carries follows from the header's response-time mode. An empty separator
// means record.DefaultSeparator.
func Open(path string, separator string, schema record.Schema) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WithStack(err)
	}
	in := bufio.NewReaderSize(f, 64*1024)
	header, headerSize, err := ReadHeader(in, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	codec := record.NewCodec(separator, schema, header.Mode.LogTimestamps())
	return &Reader{
		path:      path,
		file:      f,
		in:        in,
		header:    header,
		codec:     codec,
		separator: codec.Separator(),
		size:      info.Size(),
		bytesRead: headerSize,
		line:      HeaderLines,
	}, nil
}

func (r *Reader) Header() Header {
	return r.header
}

func (r *Reader) Path() string {
	return r.path
}

// Size is the size of the file in bytes when it was opened.
func (r *Reader) Size() int64 {
	return r.size
}

// BytesRead is the number of bytes consumed so far, header included.
func (r *Reader) BytesRead() int64 {
	return r.bytesRead
}

// Next returns the next record. It returns io.EOF once the file is exhausted. A line that can't be parsed yields
// an *ErrMalformedRecord; the caller may skip it and carry on reading.
func (r *Reader) Next() (Entry, error) {
	for {
		line, err := r.in.ReadString('\n')
		r.bytesRead += int64(len(line))
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return Entry{}, io.EOF
			}
			return Entry{}, errors.WithStack(err)
		}
		r.line++
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		return r.parse(line)
	}
}

func (r *Reader) parse(line string) (Entry, error) {
	receipt, rest, err := splitReceipt(line, r.separator)
	if err != nil {
		return Entry{}, &bencherrors.ErrMalformedRecord{Line: line, Message: "line " + strconv.Itoa(r.line) + ": " + err.Error()}
	}
	rec, err := r.codec.Decode(rest)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Receipt: receipt, Record: rec}
	if r.header.Mode.LogTimestamps() > r.header.Mode.WireTimestamps() {
		last := len(rec.Timestamps) - 1
		entry.Arrival = rec.Timestamps[last]
		entry.Record.Timestamps = rec.Timestamps[:last:last]
	}
	return entry, nil
}

func (r *Reader) Close() error {
	return errors.WithStack(r.file.Close())
}

func splitReceipt(line, separator string) (int64, string, error) {
	if separator == "" {
		separator = record.DefaultSeparator
	}
	i := strings.Index(line, separator)
	if i < 0 {
		return 0, "", errors.New("missing receipt timestamp")
	}
	receipt, err := strconv.ParseInt(strings.TrimSpace(line[:i]), 10, 64)
	if err != nil {
		return 0, "", errors.Errorf("invalid receipt timestamp %q", line[:i])
	}
	return receipt, line[i+len(separator):], nil
}
