package logging

import (
	"log/slog"
	"path/filepath"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitDefaults(t *testing.T) {
	if err := Init(nil); err != nil {
		t.Fatalf("Init(nil) failed: %v", err)
	}
	if Logger() == nil {
		t.Fatal("Logger() returned nil after Init")
	}
}

func TestFileOutputUsesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	w := getWriter(&Config{
		Output: path,
		Rotation: &RotationConfig{
			MaxSizeMB:  10,
			MaxAgeDays: 2,
			MaxBackups: 1,
		},
	})

	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer for file output, got %T", w)
	}
	if lj.MaxSize != 10 || lj.MaxAge != 2 || lj.MaxBackups != 1 {
		t.Errorf("rotation settings not applied: %+v", lj)
	}
}

func TestWithComponent(t *testing.T) {
	if err := Init(DefaultConfig()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	logger := WithComponent("test")
	if logger == nil {
		t.Fatal("WithComponent returned nil")
	}
	// Should not panic
	logger.Info("component logger works")
}
