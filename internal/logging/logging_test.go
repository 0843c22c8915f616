package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentAndContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)
	defer InitWithHandler(slog.NewTextHandler(io.Discard, nil))

	ctx := ContextWithBatchID(context.Background(), "b-1")
	ctx = ContextWithMetric(ctx, "cpu")

	FromContext(ctx, Component("ingestion")).Info("committed", "samples", 3)

	out := buf.String()
	for _, want := range []string{`"component":"ingestion"`, `"batch_id":"b-1"`, `"metric":"cpu"`, `"samples":3`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestLoggerLazyInit(t *testing.T) {
	mu.Lock()
	logger = nil
	mu.Unlock()
	defer InitWithHandler(slog.NewTextHandler(io.Discard, nil))

	if L() == nil {
		t.Fatal("expected a default logger")
	}
	if FromContext(context.Background(), nil) == nil {
		t.Error("expected FromContext to fall back to the global logger")
	}
}
