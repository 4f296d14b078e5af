// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Output is not valid JSON: %v (%q)", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestInit_idempotent verifies only the first Init takes effect.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("Second Init() should be ignored")
	}
	Info("hello")
	if buf1.Len() == 0 || buf2.Len() != 0 {
		t.Error("Output should go to the first writer only")
	}
}

// TestParseLevel verifies configuration level parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"Error", LevelError},
		{"info", LevelInfo},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestLogger_filtering verifies minimum level filtering.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", io.ErrUnexpectedEOF)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("levels = %s, %s", entries[0].Level, entries[1].Level)
	}
	if entries[1].Error != io.ErrUnexpectedEOF.Error() {
		t.Errorf("Error = %q", entries[1].Error)
	}
}

// TestLogger_Named verifies component tagging and shared level changes.
func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, LevelInfo)
	child := root.Named("queue").Named("drain")

	child.Debug("hidden")
	root.SetLevel(LevelDebug)
	child.Debug("visible", Fields{"pending": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Component != "queue.drain" {
		t.Errorf("Component = %q, want queue.drain", entries[0].Component)
	}
	if entries[0].Context["pending"] != float64(3) {
		t.Errorf("pending = %v", entries[0].Context["pending"])
	}
}

// TestLogger_ErrorWithCode verifies error code is recorded without
// mutating the caller's map.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	ctx := Fields{"order": "CAT-123456"}
	logger.ErrorWithCode("enqueue failed", "STORAGE_QUOTA_EXCEEDED", io.ErrShortWrite, ctx)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Context["error_code"] != "STORAGE_QUOTA_EXCEEDED" {
		t.Errorf("error_code = %v", entries[0].Context["error_code"])
	}
	if entries[0].Context["order"] != "CAT-123456" {
		t.Errorf("order = %v", entries[0].Context["order"])
	}
	if _, leaked := ctx["error_code"]; leaked {
		t.Error("ErrorWithCode must not modify the caller's context map")
	}
}

// TestMergeFields verifies later maps override earlier ones.
func TestMergeFields(t *testing.T) {
	if mergeFields() != nil {
		t.Error("mergeFields() should be nil")
	}
	merged := mergeFields(Fields{"a": 1, "b": 1}, Fields{"b": 2})
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Errorf("merged = %v", merged)
	}
}

// TestLogger_concurrentLogging verifies lines never interleave.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			root.Named("worker").Info("tick", Fields{"n": n})
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 20 {
		t.Errorf("got %d entries, want 20", got)
	}
}
