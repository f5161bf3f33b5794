package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiBright + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("conn_id", "c1").WithGroup("ws").Warn("ws.evict.slow_consumer",
		"thread_id", "t1",
		"reason", "queue full",
	)

	out := strings.TrimSpace(buf.String())
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=ws.evict.slow_consumer",
		"conn_id=c1",
		"ws.thread_id=t1",
		`ws.reason="queue full"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_RemapsRequestKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log.Info("http.request",
		"method", "post",
		"status", 201,
		"status_class", "2xx",
		"duration_ms", int64(12),
	)

	out := buf.String()
	for _, want := range []string{"method=POST", "status=201", "class=2xx", "duration=12ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_ColorizesByEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Warn("auth.refresh.reuse_detected", "result", "reuse_detected")

	out := buf.String()
	if !strings.Contains(out, ansiMagenta+"auth.refresh.reuse_detected") {
		t.Fatalf("auth event not tinted: %q", out)
	}
	if !strings.Contains(out, ansiRed+"reuse_detected"+ansiReset) {
		t.Fatalf("result not colorized: %q", out)
	}
	if plain := stripANSI(out); !strings.Contains(plain, "msg=auth.refresh.reuse_detected result=reuse_detected") {
		t.Fatalf("unexpected plain text: %q", plain)
	}
}

func TestPrettyHandler_FiltersBelowLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("ws.open")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered: %q", buf.String())
	}
}
