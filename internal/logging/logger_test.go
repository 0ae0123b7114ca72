package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("should not appear")
	l.Info("also should not appear")
	l.Warn("this appears", "key", "value")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected debug/info to be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "this appears") || !strings.Contains(out, "key=value") {
		t.Fatalf("expected warn message with fields, got: %s", out)
	}
}

func TestFormatArgsOddPair(t *testing.T) {
	// A trailing key with no value is dropped rather than panicking.
	got := formatArgs([]any{"a", 1, "dangling"})
	if got != " a=1" {
		t.Fatalf("want ' a=1', got %q", got)
	}
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatal("expected Default() to return the same instance")
	}
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	defer SetDefault(NewLogger(nil))

	Info("hello", "n", 1)
	if !strings.Contains(buf.String(), "hello n=1") {
		t.Fatalf("expected message routed through custom default logger, got: %s", buf.String())
	}
}
