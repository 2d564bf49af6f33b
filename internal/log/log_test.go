package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	SetLevel(LevelWarn)
	Info("hidden info")
	Warn("shown warn", "track", "Go")
	Error("shown error", errors.New("boom"), "id", "42")

	out := buf.String()
	if strings.Contains(out, "hidden info") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	for _, want := range []string{"shown warn", "track=Go", "shown error", "err=boom", "id=42"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestOddKeyValuesDropLastKey(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Info("odd", "a", 1, "dangling")
	out := buf.String()
	if strings.Contains(out, "dangling") || strings.Contains(out, "BADKEY") {
		t.Errorf("dangling key rendered: %s", out)
	}
	if !strings.Contains(out, "a=1") {
		t.Errorf("output missing a=1: %s", out)
	}
}
