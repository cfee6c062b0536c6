package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/fleetops/core/logger"
)

// Logger mirrors the core logging interface.
type Logger = corelogger.Logger

// Config controls output format and verbosity.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
	// Console switches to a human-readable writer. Defaults to true when
	// APP_ENV=dev.
	Console bool `json:"console"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

var (
	mu  sync.RWMutex
	cfg = Config{Level: "info", Console: strings.EqualFold(os.Getenv("APP_ENV"), "dev")}
)

// Configure sets the process-wide logging configuration. Call once at
// startup before creating loggers.
func Configure(c Config) {
	c.SetDefaults()
	mu.Lock()
	cfg = c
	mu.Unlock()
}

// New returns a zerolog-backed Logger tagged with the component field.
func New(component string) Logger {
	mu.RLock()
	c := cfg
	mu.RUnlock()

	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var z zerolog.Logger
	if c.Console {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		z = zerolog.New(writer)
	} else {
		z = zerolog.New(os.Stdout)
	}
	z = z.Level(level).With().Timestamp().Str("component", component).Logger()
	return &zerologLogger{log: z}
}

type zerologLogger struct {
	log zerolog.Logger
}

func (l *zerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *zerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *zerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *zerologLogger) Infow(msg string, fields map[string]any) {
	ev := l.log.Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *zerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *zerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
