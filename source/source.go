package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mail-export/model"
)

// Handle is one raw message handle. A handle is only guaranteed to stay
// valid for the duration of a single normalization call.
type Handle interface {
	Kind() model.SourceKind
	Locator() string
	Open() (io.ReadCloser, error)
}

// Lister enumerates the raw message handles of one source.
type Lister interface {
	List(ctx context.Context) ([]Handle, error)
}

// memHandle carries message bytes fetched from a mailbox. A handle with nil
// content is stale and fails to open.
type memHandle struct {
	kind    model.SourceKind
	locator string
	raw     []byte
}

// NewMemHandle wraps already-fetched message bytes in a Handle. Passing nil
// raw produces a stale handle whose Open fails with SourceUnavailable.
func NewMemHandle(kind model.SourceKind, locator string, raw []byte) Handle {
	return &memHandle{kind: kind, locator: locator, raw: raw}
}

func (m *memHandle) Kind() model.SourceKind { return m.kind }
func (m *memHandle) Locator() string        { return m.locator }

func (m *memHandle) Open() (io.ReadCloser, error) {
	if m.raw == nil {
		return nil, fmt.Errorf("%w: %s has no content", model.ErrSourceUnavailable, m.locator)
	}
	return io.NopCloser(bytes.NewReader(m.raw)), nil
}

// FileHandle is a standalone message file on disk.
type FileHandle struct {
	Path string
}

func (f *FileHandle) Kind() model.SourceKind { return model.SourceKindFile }
func (f *FileHandle) Locator() string        { return f.Path }

func (f *FileHandle) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", model.ErrSourceUnavailable, f.Path, err)
	}
	return file, nil
}

// DirSource lists the message files (*.eml) under one directory.
type DirSource struct {
	Dir string
}

func (d *DirSource) List(ctx context.Context) ([]Handle, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read message dir: %w", err)
	}

	var handles []Handle
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".eml") {
			continue
		}
		handles = append(handles, &FileHandle{Path: filepath.Join(d.Dir, entry.Name())})
	}
	return handles, nil
}
