package export

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/sanitize"
)

// Default naming templates per format, applied to the artifact's field map.
// The document default mirrors the classic export scheme
// <stamp>_<sender>_<subject>.
const (
	defaultDocumentName = "{{.Timestamp}}_{{.SenderEmail}}_{{.Subject}}"
	defaultTableName    = "messages-{{.ID}}"
)

// Options configures the export writer.
type Options struct {
	// Root is the destination root every target directory lives under.
	Root string
	// DryRun resolves paths and reports outcomes without writing.
	DryRun bool
	// MaxPathLength caps the produced path length. Defaults to the
	// sanitize package's limit.
	MaxPathLength int
}

// Writer resolves output paths and publishes artifacts. Path allocation is
// serialized, published names never overwrite an existing file, and writes
// are staged to a temporary file and renamed into place so a crash cannot
// leave a truncated file at the published path.
type Writer struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	claimed map[string]bool
}

// NewWriter validates the destination root up front: an unusable root is a
// fatal error, surfaced before any message is processed.
func NewWriter(opts Options, logger *slog.Logger) (*Writer, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("destination root is empty")
	}
	if opts.MaxPathLength <= 0 {
		opts.MaxPathLength = sanitize.MaxPathLength
	}

	if !opts.DryRun {
		if err := os.MkdirAll(opts.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create destination root: %w", err)
		}
		probe, err := os.CreateTemp(opts.Root, ".probe-*")
		if err != nil {
			return nil, fmt.Errorf("destination root not writable: %w", err)
		}
		probeName := probe.Name()
		_ = probe.Close()
		_ = os.Remove(probeName)
	}

	return &Writer{
		opts:    opts,
		logger:  logger,
		claimed: make(map[string]bool),
	}, nil
}

// Write publishes one artifact for one target. Failures are reported in the
// result, never propagated, so sibling targets and records proceed.
func (w *Writer) Write(art *model.Artifact, target model.ExportTarget) model.ExportResult {
	res := model.ExportResult{MessageID: art.MessageID, Target: target}

	dir := w.opts.Root
	if target.Dir != "" {
		dir = filepath.Join(w.opts.Root, target.Dir)
	}
	if !w.opts.DryRun {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return w.fail(res, fmt.Errorf("%w: create %s: %v", model.ErrPathResolution, dir, err))
		}
	}

	stem, err := w.resolveName(art, target)
	if err != nil {
		return w.fail(res, err)
	}

	ext := extensionFor(art.Format)

	var staged string
	if !w.opts.DryRun {
		staged, err = w.stage(dir, art.Data)
		if err != nil {
			return w.fail(res, err)
		}
	}

	path, err := w.allocate(dir, stem, ext)
	if err != nil {
		if staged != "" {
			_ = os.Remove(staged)
		}
		return w.fail(res, err)
	}

	if w.opts.DryRun {
		res.Path = path
		res.Kind = model.KindDryRun
		return res
	}

	if err := os.Rename(staged, path); err != nil {
		_ = os.Remove(staged)
		return w.fail(res, fmt.Errorf("%w: publish %s: %v", model.ErrWriteIO, path, err))
	}

	res.Path = path
	if w.logger != nil {
		w.logger.Debug("artifact published", "id", art.MessageID, "path", path, "bytes", len(art.Data))
	}
	return res
}

// resolveName applies the naming template to the artifact's fields and
// sanitizes the outcome.
func (w *Writer) resolveName(art *model.Artifact, target model.ExportTarget) (string, error) {
	text := target.NameTemplate
	if text == "" {
		if art.Format == model.FormatTable {
			text = defaultTableName
		} else {
			text = defaultDocumentName
		}
	}

	tmpl, err := template.New("name").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: parse name template: %v", model.ErrPathResolution, err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, art.Fields); err != nil {
		return "", fmt.Errorf("%w: name template: %v", model.ErrPathResolution, err)
	}

	stem := sanitize.Name(sb.String())
	stem = strings.Trim(stem, "_-.")
	if stem == "" {
		stem = art.MessageID
	}
	if stem == "" {
		stem = "artifact"
	}
	return stem, nil
}

// stage writes the artifact to a temporary file in the destination
// directory and flushes it, so publishing is a single rename.
func (w *Writer) stage(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("%w: stage: %v", model.ErrWriteIO, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: stage write: %v", model.ErrWriteIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: stage sync: %v", model.ErrWriteIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: stage close: %v", model.ErrWriteIO, err)
	}
	return tmp.Name(), nil
}

// allocate picks the final path, appending a numeric disambiguator when the
// base path is taken. Allocation is serialized so concurrent exports into
// one directory cannot race onto the same disambiguated path.
func (w *Writer) allocate(dir, stem, ext string) (string, error) {
	// Truncate against a reduced limit so the counter suffix cannot push
	// distinct candidates past the cap or collapse them onto one path.
	base := sanitize.Truncate(filepath.Join(dir, stem+ext), w.opts.MaxPathLength-6)
	stem = strings.TrimSuffix(filepath.Base(base), ext)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := 0; ; i++ {
		name := stem
		if i > 0 {
			name = fmt.Sprintf("%s-%d", stem, i)
		}
		path := filepath.Join(dir, name+ext)

		if w.claimed[path] {
			continue
		}
		if _, err := os.Lstat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: probe %s: %v", model.ErrPathResolution, path, err)
		}

		w.claimed[path] = true
		return path, nil
	}
}

func (w *Writer) fail(res model.ExportResult, err error) model.ExportResult {
	res.Err = err
	res.Kind = model.Classify(err)
	if w.logger != nil {
		w.logger.Error("export failed", "id", res.MessageID, "err", err)
	}
	return res
}

func extensionFor(format model.Format) string {
	if format == model.FormatTable {
		return ".csv"
	}
	return ".txt"
}
