package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

// slog levels for the custom TRACE and CRITICAL levels.
const (
	levelTrace    = slog.LevelDebug - 4
	levelCritical = slog.LevelError + 4
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case TRACE:
		return levelTrace
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case CRITICAL:
		return levelCritical
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel accepts the level names case-insensitively.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is a leveled printf-style logger on top of slog. Console output is
// tinted, file output is plain.
type Logger struct {
	mu    sync.Mutex
	level *slog.LevelVar
	file  *os.File
	log   *slog.Logger
}

func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &Logger{level: new(slog.LevelVar), file: f}
	l.level.Set(minLevel.slogLevel())

	handlers := []slog.Handler{newHandler(f, l.level, true)}
	if alsoStdout {
		handlers = append(handlers, newHandler(os.Stdout, l.level, false))
	}
	l.log = slog.New(slogmulti.Fanout(handlers...))
	return l, nil
}

// NewConsoleLogger writes tinted lines to w.
func NewConsoleLogger(w io.Writer, minLevel LogLevel, noColor bool) *Logger {
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(minLevel.slogLevel())
	l.log = slog.New(newHandler(w, l.level, noColor))
	return l
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	l := &Logger{level: new(slog.LevelVar)}
	l.log = slog.New(newHandler(io.Discard, l.level, true))
	return l
}

func newHandler(w io.Writer, level slog.Leveler, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) > 0 {
				return a
			}
			level, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			switch level {
			case levelTrace:
				return tint.Attr(8, slog.String(a.Key, "TRC"))
			case levelCritical:
				return tint.Attr(9, slog.String(a.Key, "CRT"))
			}
			return a
		},
	})
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

func (l *Logger) logf(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.log.Log(ctx, level, msg)
}

func (l *Logger) Trace(msg string, args ...any)    { l.logf(levelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.logf(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.logf(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.logf(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.logf(slog.LevelError, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.logf(levelCritical, msg, args...) }
