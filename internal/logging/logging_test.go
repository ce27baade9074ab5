package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSilentByDefault(t *testing.T) {
	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger should be disabled at every level")
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer SetLogger(nil)

	Logger().Info("engine: bound", "engine", "e1")
	Logger().Debug("engine: hidden")

	out := buf.String()
	if !strings.Contains(out, "engine: bound") || !strings.Contains(out, "engine=e1") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record leaked at info level: %q", out)
	}
}
