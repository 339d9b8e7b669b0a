package logfile

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const tailChunk = 4096

// FirstTimestamp returns the receipt timestamp of the first record, reading no further than the header and
// that record. An empty separator means record.DefaultSeparator.
func FirstTimestamp(path, separator string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()
	in := bufio.NewReader(f)
	if _, _, err := ReadHeader(in, path); err != nil {
		return 0, err
	}
	for {
		line, err := in.ReadString('\n')
		if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
			receipt, _, perr := splitReceipt(trimmed, separator)
			return receipt, errors.WithStack(perr)
		}
		if err == io.EOF {
			return 0, ErrNoRecords
		}
		if err != nil {
			return 0, errors.WithStack(err)
		}
	}
}

// LastTimestamp returns the receipt timestamp of the last record by scanning backwards from the end of the file
// for the start of the final line, so its cost doesn't depend on the size of the file.
func LastTimestamp(path, separator string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()
	if _, _, err := ReadHeader(bufio.NewReader(f), path); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	line, err := lastLine(f, info.Size())
	if err != nil {
		return 0, err
	}
	if line == "" || strings.HasPrefix(line, "---") {
		return 0, ErrNoRecords
	}
	receipt, _, err := splitReceipt(line, separator)
	return receipt, errors.WithStack(err)
}

// lastLine returns the last non-empty line of f, reading backwards in chunks.
func lastLine(f io.ReaderAt, size int64) (string, error) {
	var tail []byte
	end := size
	for end > 0 {
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		chunk := make([]byte, end-start)
		if _, err := f.ReadAt(chunk, start); err != nil && err != io.EOF {
			return "", errors.WithStack(err)
		}
		tail = append(chunk, tail...)
		trimmed := bytes.TrimRight(tail, "\r\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return string(trimmed[i+1:]), nil
		}
		end = start
	}
	return string(bytes.TrimRight(tail, "\r\n")), nil
}
