// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the daemon's structured, leveled logger.
// Messages carry alternating key/value attribute pairs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level controls the minimum severity that is emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string to a Level. Unknown strings map to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	Level  Level
	Output io.Writer // defaults to stderr
	Syslog SyslogConfig
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Syslog: DefaultSyslogConfig(),
	}
}

// Logger is a leveled key/value logger.
type Logger struct {
	s   *slog.Logger
	cfg Config
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// New creates a logger from the given configuration. If syslog forwarding is
// enabled and reachable, records are written to both the output writer and
// the syslog destination.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			out = io.MultiWriter(out, w)
		}
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: slogLevel(cfg.Level),
	})
	return &Logger{s: slog.New(handler), cfg: cfg}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide default logger, creating one lazily.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	l = New(DefaultConfig())
	SetDefault(l)
	return l
}

// With returns a logger that includes the given attributes on every record.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...), cfg: l.cfg}
}

// Level reports the configured minimum level.
func (l *Logger) Level() Level {
	return l.cfg.Level
}

func (l *Logger) Debug(msg string, kv ...any) { l.s.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.s.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.s.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.s.Error(msg, kv...) }
