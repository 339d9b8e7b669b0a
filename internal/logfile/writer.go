package logfile

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/relaybench/relaybench/internal/record"
)

// Writer appends records to a log file, each prefixed with the time it was received.
// It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	codec  *record.Codec
}

// Create creates (or truncates) the file at path and writes the header.
func Create(path string, header Header, codec *record.Codec) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	w, err := NewWriter(f, header, codec)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the header to out and returns a writer for the records that follow.
func NewWriter(out io.Writer, header Header, codec *record.Codec) (*Writer, error) {
	w := &Writer{out: bufio.NewWriter(out), codec: codec}
	if err := header.write(w.out); err != nil {
		return nil, errors.WithStack(err)
	}
	return w, nil
}

// Write appends r, received at the given epoch millisecond.
func (w *Writer) Write(receipt int64, r record.EventRecord) error {
	return w.WriteLine(receipt, w.codec.Encode(r))
}

// WriteLine appends an already encoded line.
func (w *Writer) WriteLine(receipt int64, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.WriteString(strconv.FormatInt(receipt, 10)); err != nil {
		return errors.WithStack(err)
	}
	if _, err := w.out.WriteString(w.codec.Separator()); err != nil {
		return errors.WithStack(err)
	}
	if _, err := w.out.WriteString(line); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(w.out.WriteByte('\n'))
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.WithStack(w.out.Flush())
}

// Close flushes buffered records and closes the underlying file, if the writer owns one.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return errors.WithStack(w.closer.Close())
	}
	return nil
}
