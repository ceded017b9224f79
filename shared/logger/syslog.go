//go:build linux

package logger

import (
	"fmt"
	"log/syslog"

	"github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"
)

func setupSyslog(logger *logrus.Logger, syslogName string) error {
	syslogHook, err := lSyslog.NewSyslogHook("", "", syslog.LOG_INFO, syslogName)
	if err != nil {
		return fmt.Errorf("Failed to setup syslog: %w", err)
	}

	logger.AddHook(syslogHook)

	return nil
}
