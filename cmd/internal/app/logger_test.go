package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var js bytes.Buffer
	slog.New(newHandler(&js, "info", "json")).Info("server.start", "addr", ":8080")
	var line map[string]any
	if err := json.Unmarshal(js.Bytes(), &line); err != nil {
		t.Fatalf("json handler output %q: %v", js.String(), err)
	}
	if line["msg"] != "server.start" || line["addr"] != ":8080" {
		t.Fatalf("unexpected json line: %v", line)
	}
	if _, ok := line["source"]; !ok {
		t.Fatalf("json line has no source: %v", line)
	}

	var pretty bytes.Buffer
	slog.New(newHandler(&pretty, "info", "PRETTY")).Info("server.start", "addr", ":8080")
	out := pretty.String()
	if !strings.Contains(out, "lvl=[INFO]") || !strings.Contains(out, "msg=server.start") || !strings.Contains(out, "addr=:8080") {
		t.Fatalf("unexpected pretty line: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("NO_COLOR set but output has ANSI codes: %q", out)
	}
}

func TestNewHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := newHandler(&buf, "warn", "json")
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error must be enabled at warn level")
	}
}
