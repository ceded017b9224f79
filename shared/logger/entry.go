package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// entryLogger logs through a logrus entry carrying the accumulated context.
type entryLogger struct {
	entry *logrus.Entry
}

func newWrapper(l *logrus.Logger) Logger {
	return &entryLogger{entry: logrus.NewEntry(l)}
}

func (l *entryLogger) log(level logrus.Level, msg string, ctx []Ctx) {
	entry := l.entry
	for _, c := range ctx {
		entry = entry.WithFields(logrus.Fields(c))
	}

	entry.Log(level, msg)
}

func (l *entryLogger) Error(msg string, ctx ...Ctx) { l.log(logrus.ErrorLevel, msg, ctx) }
func (l *entryLogger) Warn(msg string, ctx ...Ctx)  { l.log(logrus.WarnLevel, msg, ctx) }
func (l *entryLogger) Info(msg string, ctx ...Ctx)  { l.log(logrus.InfoLevel, msg, ctx) }
func (l *entryLogger) Debug(msg string, ctx ...Ctx) { l.log(logrus.DebugLevel, msg, ctx) }

func (l *entryLogger) AddContext(ctx Ctx) Logger {
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(ctx))}
}

// Error logs at the ERROR level.
func Error(msg string, ctx ...Ctx) {
	Log.Error(msg, ctx...)
}

// Warn logs at the WARNING level.
func Warn(msg string, ctx ...Ctx) {
	Log.Warn(msg, ctx...)
}

// Info logs at the INFO level.
func Info(msg string, ctx ...Ctx) {
	Log.Info(msg, ctx...)
}

// Debug logs at the DEBUG level.
func Debug(msg string, ctx ...Ctx) {
	Log.Debug(msg, ctx...)
}

// Debugf logs a printf style message at the DEBUG level.
func Debugf(format string, args ...any) {
	Log.Debug(fmt.Sprintf(format, args...))
}

// AddContext returns a logger that adds ctx to every message.
func AddContext(ctx Ctx) Logger {
	return Log.AddContext(ctx)
}
