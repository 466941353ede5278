package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("conn_id", "ab12").WithGroup("ws").Info("ws.open", "auth", "handshake pending", "duration_ms", 12)
	log.Debug("hidden")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record must be filtered: %q", out)
	}
	for _, want := range []string{"lvl=[INFO]", "msg=ws.open", "conn_id=ab12", `ws.auth="handshake pending"`, "ws.duration_ms=12"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_Colors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("http.request", "status", 503, "result", "server_error")
	log.Info("presence.update", "status", "online")
	log.Info("presence.state", "state", "open/authenticated")

	out := buf.String()
	if !strings.Contains(out, ansiRed+"503"+ansiReset) {
		t.Fatalf("5xx must be red: %q", out)
	}
	if !strings.Contains(out, ansiGreen+"online"+ansiReset) || !strings.Contains(out, ansiGreen+"open/authenticated"+ansiReset) {
		t.Fatalf("online states must be green: %q", out)
	}
	if strings.Contains(stripANSI(out), "\x1b") {
		t.Fatalf("stripANSI left escape codes")
	}
}

func TestLevelTag(t *testing.T) {
	t.Parallel()

	cases := map[slog.Level]string{
		slog.LevelDebug: "[DEBUG]",
		slog.LevelInfo:  "[INFO]",
		slog.LevelWarn:  "[WARN]",
		slog.LevelError: "[ERROR]",
	}
	for level, want := range cases {
		if got := levelTag(level, false); got != want {
			t.Fatalf("levelTag(%v)=%q want=%q", level, got, want)
		}
		if got := stripANSI(levelTag(level, true)); got != want {
			t.Fatalf("colored levelTag(%v)=%q want=%q", level, got, want)
		}
	}
}
