package monitoring

import (
	"fmt"
	"log"

	charmlog "github.com/charmbracelet/log"
)

// Logf is the package-level diagnostic logger used by the scan, sampler and
// model builders. It defaults to log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf carries per-point chatter (one line per grid point or sampler step).
// It is muted unless a debug sink is installed.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebugLogger replaces the debug logger. Passing nil mutes it.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}

// UseCharm routes Logf to l at info level and Debugf to l at debug level.
// The logger's own level decides whether debug lines are emitted.
func UseCharm(l *charmlog.Logger) {
	if l == nil {
		SetLogger(nil)
		SetDebugLogger(nil)
		return
	}
	Logf = func(format string, v ...interface{}) { l.Info(fmt.Sprintf(format, v...)) }
	Debugf = func(format string, v ...interface{}) { l.Debug(fmt.Sprintf(format, v...)) }
}
