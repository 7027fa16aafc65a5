package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker remembers which message identities were already exported so
// repeated runs against the same destination can skip them on request.
type Tracker interface {
	AlreadyExported(id string) bool
	MarkExported(id, path string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Exported int
}

type MemoryTracker struct {
	mu       sync.RWMutex
	exported map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{exported: make(map[string]string)}
}

func (m *MemoryTracker) AlreadyExported(id string) bool {
	if id == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.exported[id]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkExported(id, path string) error {
	if id == "" {
		return nil
	}

	m.mu.Lock()
	m.exported[id] = path
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.exported)
	m.mu.RUnlock()
	return Snapshot{Exported: count}
}

// FileTracker persists exported message identities as a manifest under the
// destination root so future runs can skip them.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

type manifestRecord struct {
	MessageID string `json:"message_id"`
	Path      string `json:"path"`
}

func NewFileTracker(dir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("manifest directory is empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(dir, "exported.jsonl"),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open manifest for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record manifestRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse manifest line %d: %w", line, err)
		}
		if record.MessageID == "" {
			continue
		}

		f.mu.Lock()
		f.exported[record.MessageID] = record.Path
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	return nil
}

func (f *FileTracker) MarkExported(id, path string) error {
	if id == "" {
		return nil
	}

	f.mu.Lock()
	if _, exists := f.exported[id]; exists {
		f.mu.Unlock()
		return nil
	}
	f.exported[id] = path
	f.mu.Unlock()

	if !f.persist {
		return nil
	}

	record := manifestRecord{MessageID: id, Path: path}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode manifest record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write manifest record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered manifest data to the underlying file.
func (f *FileTracker) Flush() error {
	if !f.persist || f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	return nil
}

// Close flushes and closes the manifest file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush manifest: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync manifest: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close manifest: %w", err)
	}

	return firstErr
}
