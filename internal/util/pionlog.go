package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal scoped loggers into the pterm
// logger. Trace output is dropped; debug output only shows with -debug.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) prefix(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

func (l pionLogger) Trace(string)          {}
func (l pionLogger) Tracef(string, ...any) {}

// Debug and Info return before formatting unless -debug is set.

func (l pionLogger) Debug(msg string) {
	if DebugEnabled() {
		LogDebug("%s", l.prefix(msg))
	}
}
func (l pionLogger) Debugf(format string, args ...any) {
	if DebugEnabled() {
		LogDebug("%s", l.prefix(fmt.Sprintf(format, args...)))
	}
}

func (l pionLogger) Info(msg string) { l.Debug(msg) }
func (l pionLogger) Infof(format string, args ...any) {
	l.Debugf(format, args...)
}

func (l pionLogger) Warn(msg string) { LogWarning("%s", l.prefix(msg)) }
func (l pionLogger) Warnf(format string, args ...any) {
	LogWarning("%s", l.prefix(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Error(msg string) { LogError("%s", l.prefix(msg)) }
func (l pionLogger) Errorf(format string, args ...any) {
	LogError("%s", l.prefix(fmt.Sprintf(format, args...)))
}
