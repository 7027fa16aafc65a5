package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryTracker(t *testing.T) {
	m := NewMemoryTracker()

	if m.AlreadyExported("a") {
		t.Error("empty tracker reports a as exported")
	}
	if err := m.MarkExported("a", "/out/a.txt"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if !m.AlreadyExported("a") {
		t.Error("marked identity not reported as exported")
	}
	if m.Snapshot().Exported != 1 {
		t.Errorf("Snapshot().Exported = %d, want 1", m.Snapshot().Exported)
	}
}

func TestMemoryTracker_EmptyID(t *testing.T) {
	m := NewMemoryTracker()
	if err := m.MarkExported("", "/out/x.txt"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if m.AlreadyExported("") {
		t.Error("empty identity must never count as exported")
	}
	if m.Snapshot().Exported != 0 {
		t.Errorf("Snapshot().Exported = %d, want 0", m.Snapshot().Exported)
	}
}

func TestFileTracker_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := first.MarkExported("abc123@example.com", "/out/a.txt"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("reopen NewFileTracker() error = %v", err)
	}
	defer second.Close()

	if !second.AlreadyExported("abc123@example.com") {
		t.Error("identity lost across tracker reopen")
	}
	if second.Snapshot().Exported != 1 {
		t.Errorf("Snapshot().Exported = %d, want 1", second.Snapshot().Exported)
	}
}

func TestFileTracker_NoPersist(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := tracker.MarkExported("id-1", "/out/a.txt"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "exported.jsonl")); !os.IsNotExist(err) {
		t.Error("non-persisting tracker wrote a manifest file")
	}
}

func TestFileTracker_DuplicateMarkKept(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	defer tracker.Close()

	if err := tracker.MarkExported("dup", "/out/first.txt"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if err := tracker.MarkExported("dup", "/out/second.txt"); err != nil {
		t.Fatalf("second MarkExported() error = %v", err)
	}
	if err := tracker.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "exported.jsonl"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if got := len(splitLines(data)); got != 1 {
		t.Errorf("manifest has %d records, want 1 (duplicate suppressed)", got)
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
