package monitoring

import (
	"bytes"
	"strings"
	"testing"

	charmlog "github.com/charmbracelet/log"
)

func restoreLoggers(t *testing.T) {
	t.Helper()
	origLogf, origDebugf := Logf, Debugf
	t.Cleanup(func() {
		Logf = origLogf
		Debugf = origDebugf
	})
}

func TestSetLogger(t *testing.T) {
	restoreLoggers(t)

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("scan pixel %d", 42)
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("scan pixel %d", 42)
	if called {
		t.Error("no-op logger should not have triggered callback")
	}
}

func TestSetDebugLogger(t *testing.T) {
	restoreLoggers(t)

	var lines []string
	SetDebugLogger(func(format string, v ...interface{}) { lines = append(lines, format) })
	Debugf("step %d", 1)
	if len(lines) != 1 {
		t.Fatalf("expected 1 debug line, got %d", len(lines))
	}

	SetDebugLogger(nil)
	Debugf("step %d", 2)
	if len(lines) != 1 {
		t.Errorf("muted debug logger still forwarded: %v", lines)
	}
}

func TestUseCharm(t *testing.T) {
	restoreLoggers(t)

	var buf bytes.Buffer
	l := charmlog.NewWithOptions(&buf, charmlog.Options{Level: charmlog.InfoLevel})
	UseCharm(l)

	Logf("grid scan finished: %d points", 12)
	Debugf("hidden at info level")

	out := buf.String()
	if !strings.Contains(out, "grid scan finished: 12 points") {
		t.Errorf("info line missing from output: %q", out)
	}
	if strings.Contains(out, "hidden at info level") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}

	UseCharm(nil)
	Logf("dropped")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("nil charm logger should mute output")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
	if Debugf == nil {
		t.Error("Debugf should not be nil by default")
	}
}
