package logging

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

var validLogFormats = map[string]bool{
	FormatText: true,
	FormatJson: true,
}

// Config defines logging configuration.
type Config struct {
	// Defines configuration for console logging on stdout
	Console struct {
		// Log level, e.g. INFO, ERROR etc
		Level string `mapstructure:"level"`
		// Logging format, either text or json
		Format string `mapstructure:"format"`
	} `mapstructure:"console"`
	// Defines configuration for file logging
	File struct {
		// Whether file logging is enabled.
		Enabled bool `mapstructure:"enabled"`
		// Log level, e.g. INFO, ERROR etc
		Level string `mapstructure:"level"`
		// Logging format, either text or json
		Format string `mapstructure:"format"`
		// The Location of the logfile on disk
		LogFile string `mapstructure:"logfile"`
		// Log Rotation Options
		Rotation struct {
			// Maximum size in megabytes of the log file before it gets rotated
			MaxSizeMb int `mapstructure:"maxSizeMb"`
			// Maximum number of old log files to retain
			MaxBackups int `mapstructure:"maxBackups"`
			// Maximum number of days to retain old log files
			MaxAgeDays int `mapstructure:"maxAgeDays"`
			// Whether to compress rotated log files
			Compress bool `mapstructure:"compress"`
		} `mapstructure:"rotation"`
	} `mapstructure:"file"`
}

// DefaultConfig logs at info level as text to stdout only.
func DefaultConfig() Config {
	c := Config{}
	c.Console.Level = "info"
	c.Console.Format = FormatText
	return c
}

func (c Config) validate() error {
	if _, err := log.ParseLevel(strings.ToLower(c.Console.Level)); err != nil {
		return errors.WithStack(err)
	}
	if err := validateLogFormat(c.Console.Format); err != nil {
		return err
	}
	if !c.File.Enabled {
		return nil
	}
	if _, err := log.ParseLevel(strings.ToLower(c.File.Level)); err != nil {
		return errors.WithStack(err)
	}
	if err := validateLogFormat(c.File.Format); err != nil {
		return err
	}
	if c.File.LogFile == "" {
		return errors.New("file.logfile must be set when file logging is enabled")
	}
	if c.File.Rotation.MaxSizeMb < 0 || c.File.Rotation.MaxBackups < 0 || c.File.Rotation.MaxAgeDays < 0 {
		return errors.New("rotation limits must not be negative")
	}
	return nil
}

func validateLogFormat(f string) error {
	if !validLogFormats[f] {
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", f, maps.Keys(validLogFormats))
	}
	return nil
}
