// Package logger provides structured logging for garmind using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string `yaml:"level"`
	Debug      bool   `yaml:"debug"`
	Output     string `yaml:"output"`
	TimeFormat string `yaml:"time_format"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: "stderr",
	}
}

// Logger is the logging surface handed to every component.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) Logger
}

type zlogger struct {
	zl zerolog.Logger
}

// New builds a Logger from cfg. Output "stdout" and "stderr" are recognised;
// anything else is treated as a file path opened for append.
func New(cfg Config) (Logger, error) {
	var output io.Writer = os.Stderr

	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	return FromZerolog(zerolog.New(output).Level(level).With().Timestamp().Logger()), nil
}

func FromZerolog(zl zerolog.Logger) Logger {
	return &zlogger{zl: zl}
}

func (l *zlogger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *zlogger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *zlogger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *zlogger) Error() *zerolog.Event { return l.zl.Error() }
func (l *zlogger) With() zerolog.Context { return l.zl.With() }

func (l *zlogger) WithComponent(component string) Logger {
	return &zlogger{zl: l.zl.With().Str("component", component).Logger()}
}

// NewTestLogger creates a logger that discards all output.
func NewTestLogger() Logger {
	return &zlogger{zl: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}
