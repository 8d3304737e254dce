// Package logging provides subsystem loggers built on log/slog.
//
// Levels and format come from the environment:
//
//	CMDGATE_LOG_LEVEL=authz=debug,transport=warn,info
//	CMDGATE_LOG_FORMAT=json
//
// Usage:
//
//	var log = logging.Logger("authz")
//	log.Info("permission granted", "identity", id, "level", level)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects the handler encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config holds the parsed logging configuration.
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[string]slog.Level
	Format          Format
}

// LevelFor returns the level configured for a subsystem.
func (c *Config) LevelFor(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

var (
	mu      sync.Mutex
	cfg     *Config
	output  io.Writer = os.Stderr
	loggers           = map[string]*entry{}
)

type entry struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// ParseConfig parses a level spec ("sub=level,...,default") and a format name.
func ParseConfig(levelSpec, format string) *Config {
	c := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
	}
	for _, part := range strings.Split(levelSpec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if sub, name, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(name); ok {
				c.SubsystemLevels[strings.TrimSpace(sub)] = level
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			c.DefaultLevel = level
		}
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		c.Format = FormatJSON
	}
	return c
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func current() *Config {
	if cfg == nil {
		cfg = ParseConfig(os.Getenv("CMDGATE_LOG_LEVEL"), os.Getenv("CMDGATE_LOG_FORMAT"))
	}
	return cfg
}

// Logger returns the logger for a subsystem. Repeated calls return the same instance.
func Logger(subsystem string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if e, ok := loggers[subsystem]; ok {
		return e.logger
	}
	c := current()
	lv := new(slog.LevelVar)
	lv.Set(c.LevelFor(subsystem))
	e := &entry{
		logger: slog.New(newHandler(c.Format, lv)).With("subsystem", subsystem),
		level:  lv,
	}
	loggers[subsystem] = e
	return e.logger
}

// Configure replaces the configuration and re-levels existing loggers.
// The format only applies to loggers created afterwards.
func Configure(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
	for sub, e := range loggers {
		e.level.Set(c.LevelFor(sub))
	}
}

// SetLevel adjusts one subsystem at runtime.
func SetLevel(subsystem string, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	if e, ok := loggers[subsystem]; ok {
		e.level.Set(level)
	}
}

// SetOutput redirects all loggers created afterwards.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	loggers = map[string]*entry{}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(format Format, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}
	if format == FormatJSON {
		return slog.NewJSONHandler(output, opts)
	}
	return slog.NewTextHandler(output, opts)
}
