// Package ids provides unit tests for identifier generation.
package ids

import (
	"strings"
	"testing"
	"time"
)

// TestNewQueueID tests the queue identifier format.
func TestNewQueueID(t *testing.T) {
	now := time.UnixMilli(1723500000123)
	id := NewQueueID(now)

	if !strings.HasPrefix(id, "offline_1723500000123_") {
		t.Errorf("NewQueueID() = %q, want offline_1723500000123_ prefix", id)
	}
	if !IsQueueID(id) {
		t.Errorf("IsQueueID(%q) = false", id)
	}
}

// TestNewQueueIDUniqueness tests that IDs at the same instant differ.
func TestNewQueueIDUniqueness(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewQueueID(now)
		if seen[id] {
			t.Fatalf("Duplicate queue ID generated: %s", id)
		}
		seen[id] = true
	}
}

// TestNewOrderNumber tests the CAT-xxxxxx format, including zero padding.
func TestNewOrderNumber(t *testing.T) {
	tests := []struct {
		millis int64
		want   string
	}{
		{1723500123456, "CAT-123456"},
		{1723500000042, "CAT-000042"},
	}
	for _, tt := range tests {
		got := NewOrderNumber(time.UnixMilli(tt.millis))
		if got != tt.want {
			t.Errorf("NewOrderNumber(%d) = %q, want %q", tt.millis, got, tt.want)
		}
		if !IsOrderNumber(got) {
			t.Errorf("IsOrderNumber(%q) = false", got)
		}
	}
}

// TestIsQueueID tests rejection of malformed identifiers.
func TestIsQueueID(t *testing.T) {
	for _, s := range []string{"", "offline_", "offline_abc_0123456789ab", "queue_1_0123456789ab", "offline_1_0123456789AB"} {
		if IsQueueID(s) {
			t.Errorf("IsQueueID(%q) = true, want false", s)
		}
	}
}
