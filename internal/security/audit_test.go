package security

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestLogAppendsJSONLine(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLogger(newTestLogger(), dir)
	defer audit.Close()

	audit.Log("127.0.0.1", "test-agent", "GET /v1/status", 200, "authorized")

	entries := audit.RecentLogs(10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != "GET /v1/status" || entries[0].Status != 200 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestRecentLogsReturnsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLogger(newTestLogger(), dir)
	defer audit.Close()

	audit.Log("127.0.0.1", "a", "first", 200, "")
	audit.Log("127.0.0.1", "a", "second", 200, "")
	audit.Log("127.0.0.1", "a", "third", 200, "")

	entries := audit.RecentLogs(2)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "third" || entries[1].Action != "second" {
		t.Fatalf("expected newest-first order, got %+v", entries)
	}
}

func TestRecentLogsEmptyWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	audit := &AuditLogger{logger: newTestLogger(), logPath: filepath.Join(dir, "missing.log")}

	entries := audit.RecentLogs(10)
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
