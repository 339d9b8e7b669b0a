package logfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relaybench/relaybench/internal/common/bencherrors"
	"github.com/relaybench/relaybench/internal/responsetime"
)

// HeaderLines is the number of lines every log file starts with.
const HeaderLines = 8

const (
	componentLabel  = "Component:"
	addressLabel    = "Address:"
	connectionLabel = "Connection:"
	startTimeLabel  = "Start time:"
	modeLabel       = "Response time measurement:"
	resolutionLabel = "Response time resolution:"
	samplingLabel   = "Sampling rate:"
	separatorLine   = "----------------------------------------------------------------"
)

// Header describes how a log file was recorded. Offline analysis needs the response-time mode, resolution and
// sampling rate to interpret the records that follow.
type Header struct {
	Component    string
	Address      string
	Connection   string
	StartTime    time.Time
	Mode         responsetime.Mode
	Resolution   responsetime.Resolution
	SamplingRate float64
}

func (h Header) write(w io.Writer) error {
	samplingRate := h.SamplingRate
	if samplingRate <= 0 {
		samplingRate = 1
	}
	_, err := fmt.Fprintf(w, "%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s\n",
		componentLabel, h.Component,
		addressLabel, h.Address,
		connectionLabel, h.Connection,
		startTimeLabel, h.StartTime.UTC().Format(time.RFC3339Nano),
		modeLabel, h.Mode,
		resolutionLabel, h.Resolution,
		samplingLabel, strconv.FormatFloat(samplingRate, 'g', -1, 64),
		separatorLine,
	)
	return err
}

// ReadHeader parses and validates the header at the start of r. It returns the header and the number of bytes
// it occupies. Path is only used in errors.
func ReadHeader(r *bufio.Reader, path string) (Header, int64, error) {
	var lines [HeaderLines]string
	var size int64
	for i := range lines {
		line, err := r.ReadString('\n')
		size += int64(len(line))
		if err != nil && (err != io.EOF || line == "") {
			return Header{}, size, &bencherrors.ErrInvalidLogFile{
				Path:    path,
				Line:    i + 1,
				Message: fmt.Sprintf("header is truncated; expected %d lines", HeaderLines),
			}
		}
		lines[i] = strings.TrimRight(line, "\r\n")
	}

	invalid := func(line int, format string, args ...interface{}) error {
		return &bencherrors.ErrInvalidLogFile{Path: path, Line: line, Message: fmt.Sprintf(format, args...)}
	}
	value := func(line int, label string) (string, error) {
		text := lines[line-1]
		i := strings.Index(text, label)
		if i < 0 {
			return "", invalid(line, "expected %q", label)
		}
		return strings.TrimSpace(text[i+len(label):]), nil
	}

	var h Header
	var err error
	if h.Component, err = value(1, componentLabel); err != nil {
		return Header{}, size, err
	}
	if h.Address, err = value(2, addressLabel); err != nil {
		return Header{}, size, err
	}
	if h.Connection, err = value(3, connectionLabel); err != nil {
		return Header{}, size, err
	}
	start, err := value(4, startTimeLabel)
	if err != nil {
		return Header{}, size, err
	}
	if start != "" {
		if h.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return Header{}, size, invalid(4, "invalid start time %q", start)
		}
	}
	mode, err := value(5, modeLabel)
	if err != nil {
		return Header{}, size, err
	}
	if h.Mode, err = responsetime.ParseMode(mode); err != nil {
		return Header{}, size, invalid(5, "%v", err)
	}
	resolution, err := value(6, resolutionLabel)
	if err != nil {
		return Header{}, size, err
	}
	if h.Resolution, err = responsetime.ParseResolution(resolution); err != nil {
		return Header{}, size, invalid(6, "%v", err)
	}
	sampling, err := value(7, samplingLabel)
	if err != nil {
		return Header{}, size, err
	}
	if h.SamplingRate, err = strconv.ParseFloat(sampling, 64); err != nil || h.SamplingRate <= 0 || h.SamplingRate > 1 {
		return Header{}, size, invalid(7, "sampling rate %q must be a number in (0, 1]", sampling)
	}
	if !strings.HasPrefix(lines[7], "---") {
		return Header{}, size, invalid(8, "expected a separator line")
	}
	return h, size, nil
}
