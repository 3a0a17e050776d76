package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func newJSONLogger(t *testing.T, level slog.Level) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line is not JSON: %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlogLogger_LevelsAndAttributes(t *testing.T) {
	log, buf := newJSONLogger(t, slog.LevelDebug)
	ctx := context.Background()

	log.Debug(ctx, "probe", "source", "primary")
	log.Info(ctx, "synced", "count", 2)
	log.Warn(ctx, "create failed, storing offline", "localRef", "abc")
	log.Error(ctx, "persist", "key", "fleetsync.registrations")

	lines := decodeLines(t, buf)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}

	want := []struct {
		level, msg, key string
		val             any
	}{
		{"DEBUG", "probe", "source", "primary"},
		{"INFO", "synced", "count", float64(2)},
		{"WARN", "create failed, storing offline", "localRef", "abc"},
		{"ERROR", "persist", "key", "fleetsync.registrations"},
	}
	for i, w := range want {
		got := lines[i]
		if got["level"] != w.level || got["msg"] != w.msg || got[w.key] != w.val {
			t.Fatalf("line %d: got %v, want level=%s msg=%q %s=%v", i, got, w.level, w.msg, w.key, w.val)
		}
	}
}

func TestSlogLogger_FiltersBelowLevel(t *testing.T) {
	log, buf := newJSONLogger(t, slog.LevelWarn)
	ctx := context.Background()

	log.Debug(ctx, "hidden")
	log.Info(ctx, "hidden")
	log.Warn(ctx, "shown")

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "shown" {
		t.Fatalf("expected only the warning, got %v", lines)
	}
}

func TestSlogLogger_WithIsScoped(t *testing.T) {
	log, buf := newJSONLogger(t, slog.LevelInfo)
	ctx := context.Background()

	child := log.With("component", "backup")
	child.Info(ctx, "created", "records", 7)
	log.Info(ctx, "plain")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["component"] != "backup" || lines[0]["records"] != float64(7) {
		t.Fatalf("child attributes missing: %v", lines[0])
	}
	if _, ok := lines[1]["component"]; ok {
		t.Fatalf("parent logger picked up child attributes: %v", lines[1])
	}
}
