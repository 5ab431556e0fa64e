package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := FromZerolog(zerolog.New(&buf)).With(String("comp", "watch"))
	log.Info("lease added", String("tenant", "g1"), Int("interval_min", 10))

	out := buf.String()
	for _, want := range []string{`"comp":"watch"`, `"tenant":"g1"`, `"interval_min":10`, `"message":"lease added"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("dropped")
	if l.With(String("a", "b")).IsZero() {
		t.Fatal("logger with fields should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"warn","message":"fetch failed","tenant":"g1","kind":"video-watch","time":"x"}`))
	want := "[WARN] fetch failed\n- kind=video-watch\n- tenant=g1"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
}
