package finagle

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the minimal structured logging surface finagle writes to.
// Messages take alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes levelled key=value lines to standard error. Intended
// for examples and debugging rather than production log pipelines.
type SimpleLogger struct {
	out *log.Logger
}

// NewSimpleLogger creates a SimpleLogger writing to os.Stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{out: log.New(os.Stderr, "finagle ", log.LstdFlags|log.Lmicroseconds)}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) { l.logf("DEBUG", msg, keysAndValues) }

func (l *SimpleLogger) Info(msg string, keysAndValues ...any) { l.logf("INFO", msg, keysAndValues) }

func (l *SimpleLogger) Warn(msg string, keysAndValues ...any) { l.logf("WARN", msg, keysAndValues) }

func (l *SimpleLogger) Error(msg string, keysAndValues ...any) { l.logf("ERROR", msg, keysAndValues) }

func (l *SimpleLogger) logf(level, msg string, keysAndValues []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	if len(keysAndValues)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", keysAndValues[len(keysAndValues)-1])
	}
	l.out.Println(b.String())
}
