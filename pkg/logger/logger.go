package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields are structured key/values attached to a log line.
type Fields = logrus.Fields

// Logger keeps the printf-style API used across services while emitting
// structured entries through logrus.
type Logger struct {
	base  *logrus.Logger
	info  *logrus.Entry
	warn  *logrus.Entry
	error *logrus.Entry
	debug *logrus.Entry
}

func New() *Logger {
	return NewWithOptions("info", "text")
}

// NewWithOptions builds a logger for the given level ("debug", "info", ...) and
// format ("json" or "text").
func NewWithOptions(level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	return wrap(logrus.NewEntry(base))
}

func wrap(entry *logrus.Entry) *Logger {
	return &Logger{
		base:  entry.Logger,
		info:  entry,
		warn:  entry,
		error: entry,
		debug: entry,
	}
}

// WithService tags every entry with the service name.
func (l *Logger) WithService(name string) *Logger {
	return l.WithFields(Fields{"service": name})
}

// WithFields returns a child logger carrying the given fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return wrap(l.info.WithFields(fields))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.info.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.warn.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.error.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.debug.Debug(fmt.Sprintf(format, args...))
}
