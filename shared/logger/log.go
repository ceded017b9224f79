package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	lWriter "github.com/sirupsen/logrus/hooks/writer"
	"golang.org/x/term"
)

func init() {
	l := logrus.New()
	l.SetOutput(io.Discard)

	Log = newWrapper(l)
}

// outputLevels returns the levels written to stderr and the log file.
// Syslog and extra hooks see every level.
func outputLevels(verbose bool, debug bool) []logrus.Level {
	last := logrus.WarnLevel
	if debug {
		last = logrus.DebugLevel
	} else if verbose {
		last = logrus.InfoLevel
	}

	levels := []logrus.Level{}
	for _, level := range logrus.AllLevels {
		if level <= last {
			levels = append(levels, level)
		}
	}

	return levels
}

// InitLogger replaces Log with a logger writing to stderr, and optionally to
// a file, syslog and an extra hook.
func InitLogger(filepath string, syslogName string, verbose bool, debug bool, hook logrus.Hook) error {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetOutput(io.Discard)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   term.IsTerminal(int(os.Stderr.Fd())),
	})

	out := io.Writer(os.Stderr)
	if filepath != "" {
		f, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("Failed to open log file %q: %w", filepath, err)
		}

		out = io.MultiWriter(os.Stderr, f)
	}

	l.AddHook(&lWriter.Hook{Writer: out, LogLevels: outputLevels(verbose, debug)})

	if syslogName != "" {
		err := setupSyslog(l, syslogName)
		if err != nil {
			return err
		}
	}

	if hook != nil {
		l.AddHook(hook)
	}

	Log = newWrapper(l)

	return nil
}
