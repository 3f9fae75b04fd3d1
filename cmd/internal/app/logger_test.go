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
		{in: "warn", want: slog.LevelWarn},
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

func TestNewLogHandler_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	slog.New(newLogHandler(&jsonBuf, "info", "auto", false)).Info("server.start", "addr", ":8080")
	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("auto without a terminal must log JSON: %v (%q)", err, jsonBuf.String())
	}
	if rec["msg"] != "server.start" || rec["addr"] != ":8080" {
		t.Fatalf("unexpected record: %v", rec)
	}

	var prettyBuf bytes.Buffer
	slog.New(newLogHandler(&prettyBuf, "info", "pretty", false)).Info("server.start", "addr", ":8080")
	line := prettyBuf.String()
	if !strings.Contains(line, "msg=server.start") || !strings.Contains(line, "addr=:8080") {
		t.Fatalf("unexpected pretty line: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("pretty output without a terminal must not carry colors: %q", line)
	}

	h := newLogHandler(&prettyBuf, "warn", "pretty", false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info must be filtered at warn level")
	}
}
