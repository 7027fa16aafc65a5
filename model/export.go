package model

import "sync"

// Format identifies the shape of a rendered artifact.
type Format string

const (
	FormatDocument Format = "document"
	FormatTable    Format = "table"
)

// ExportTarget is one requested output: a format, a directory below the
// destination root and a naming template applied to the artifact's fields.
type ExportTarget struct {
	Format       Format `yaml:"format"`
	Dir          string `yaml:"dir"`
	NameTemplate string `yaml:"name_template"`
}

// Artifact is a rendered output ready for the export writer. Fields carries
// the flat field values the naming template may reference; Row is set for
// table-bound artifacts and holds the same values.
type Artifact struct {
	Format    Format
	MessageID string
	Fields    map[string]string
	Columns   []string
	Row       map[string]string
	Data      []byte
}

// ExportResult is the per-record, per-target outcome. It is created by the
// export writer (or the orchestrator for failures before writing) and never
// mutated afterwards.
type ExportResult struct {
	MessageID string
	Locator   string
	Target    ExportTarget
	Path      string
	Kind      string
	Err       error
}

// Success reports whether the result carries no error and was not skipped.
func (r ExportResult) Success() bool {
	return r.Err == nil && r.Kind == ""
}

// BatchReport collects every export result of one batch. Appends are
// serialized; after Finalize the report is immutable.
type BatchReport struct {
	mu        sync.Mutex
	results   []ExportResult
	finalized bool

	succeeded int
	failed    int
	skipped   int
}

func NewBatchReport() *BatchReport {
	return &BatchReport{}
}

// Append adds one result. Appending after Finalize is a programming error
// and is ignored.
func (b *BatchReport) Append(res ExportResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return
	}
	b.results = append(b.results, res)
	switch {
	case res.Kind == KindSkipped || res.Kind == KindCancelled:
		b.skipped++
	case res.Err != nil:
		b.failed++
	default:
		b.succeeded++
	}
}

// Finalize freezes the report.
func (b *BatchReport) Finalize() {
	b.mu.Lock()
	b.finalized = true
	b.mu.Unlock()
}

// Results returns a copy of the appended results in append order.
func (b *BatchReport) Results() []ExportResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ExportResult, len(b.results))
	copy(out, b.results)
	return out
}

// Counts returns the aggregate outcome tallies.
func (b *BatchReport) Counts() (succeeded, failed, skipped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.succeeded, b.failed, b.skipped
}

// Len returns the number of appended results.
func (b *BatchReport) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}
