package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Configure sets up the standard logrus logger according to config. Console output goes to stdout; if file logging
// is enabled, entries at or above the file level are additionally written to a rotated log file. Each sink applies its
// own level and formatter.
func Configure(config Config) error {
	if err := config.validate(); err != nil {
		return err
	}
	consoleLevel, _ := log.ParseLevel(strings.ToLower(config.Console.Level))
	hooks := make(log.LevelHooks)
	hooks.Add(&writerHook{
		writer:    os.Stdout,
		formatter: formatterFor(config.Console.Format),
		levels:    levelsUpTo(consoleLevel),
	})
	level := consoleLevel

	if config.File.Enabled {
		fileLevel, _ := log.ParseLevel(strings.ToLower(config.File.Level))
		if fileLevel > level {
			level = fileLevel
		}
		hooks.Add(&writerHook{
			writer: &lumberjack.Logger{
				Filename:   config.File.LogFile,
				MaxSize:    config.File.Rotation.MaxSizeMb,
				MaxBackups: config.File.Rotation.MaxBackups,
				MaxAge:     config.File.Rotation.MaxAgeDays,
				Compress:   config.File.Rotation.Compress,
			},
			formatter: formatterFor(config.File.Format),
			levels:    levelsUpTo(fileLevel),
		})
	}

	// Sinks are hooks; the logger itself writes nowhere.
	log.SetOutput(io.Discard)
	log.SetLevel(level)
	log.StandardLogger().ReplaceHooks(hooks)
	return nil
}

// MustConfigure is like Configure, but exits the process on error.
func MustConfigure(config Config) {
	if err := Configure(config); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error initializing logging: "+err.Error())
		os.Exit(1)
	}
}

// ConfigureCommandLineLogging sets up logging suitable for a command line tool: plain messages, no timestamps.
func ConfigureCommandLineLogging() {
	log.SetFormatter(&CommandLineFormatter{})
	log.SetOutput(os.Stdout)
}

func formatterFor(format string) log.Formatter {
	if format == FormatJson {
		return &log.JSONFormatter{TimestampFormat: RFC3339Milli}
	}
	return &log.TextFormatter{FullTimestamp: true, TimestampFormat: RFC3339Milli}
}

func levelsUpTo(level log.Level) []log.Level {
	var levels []log.Level
	for _, l := range log.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return levels
}

// writerHook writes entries of the given levels to writer using its own formatter.
type writerHook struct {
	writer    io.Writer
	formatter log.Formatter
	levels    []log.Level
}

func (h *writerHook) Levels() []log.Level {
	return h.levels
}

func (h *writerHook) Fire(entry *log.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}

// CommandLineFormatter prints the message only.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("%s\n", entry.Message)), nil
}

// NullLogger discards everything. Useful for tests and for components constructed without a logger.
var NullLogger = &log.Logger{
	Out:       io.Discard,
	Formatter: new(log.TextFormatter),
	Hooks:     make(log.LevelHooks),
	Level:     log.PanicLevel,
}
