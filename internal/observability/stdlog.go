package observability

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// StdLogger adapts the standard library logger to the Logger interface. Used
// by the CLI; services embed their own implementations.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger wraps the given stdlib logger. Debug output is suppressed
// unless enabled.
func NewStdLogger(logger *log.Logger, debug bool) *StdLogger {
	return &StdLogger{logger: logger, debug: debug}
}

// Debug logs at debug level when enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.print("DEBUG", msg, fields)
}

// Info logs at info level.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.print("INFO", msg, fields)
}

// Error logs at error level.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.print("ERROR", msg, fields)
}

func (l *StdLogger) print(level, msg string, fields []Field) {
	if len(fields) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	sort.Strings(parts)
	l.logger.Printf("%s %s %s", level, msg, strings.Join(parts, " "))
}
