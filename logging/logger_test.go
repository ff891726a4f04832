package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerDefaultsToDiscard(t *testing.T) {
	SetLogger(nil)
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	// Must not panic and must not be enabled for debug.
	l.Debug("dropped")
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("default logger is enabled for debug")
	}
}

func TestSetLoggerCapturesOutput(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	Logger().Debug("page flushed", "page", 3)
	out := buf.String()
	if !strings.Contains(out, "page flushed") || !strings.Contains(out, "page=3") {
		t.Fatalf("expected captured log output, got %q", out)
	}
}

func TestSetLoggerNilDisables(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	SetLogger(nil)
	Logger().Info("should vanish")
	if buf.Len() != 0 {
		t.Fatalf("expected no output after SetLogger(nil), got %q", buf.String())
	}
}
