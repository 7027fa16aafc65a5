package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"

	"github.com/dhcgn/mail-export/model"
)

// Aggregator accumulates row artifacts across a batch into one table. The
// column set is the union of all columns seen, in first-seen order, so the
// finalized table is rectangular even when records carry heterogeneous
// field sets. Appends are serialized; row order is stable once finalized.
type Aggregator struct {
	mu      sync.Mutex
	columns []string
	seen    map[string]bool
	rows    []map[string]string
	closed  bool
}

func New() *Aggregator {
	return &Aggregator{seen: make(map[string]bool)}
}

// Append adds one row. New columns extend the schema; rows missing a column
// that others populate get an explicit empty marker when the table is
// written. Appending after Finalize fails with AggregatorClosed.
func (a *Aggregator) Append(columns []string, row map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("%w: append after finalize", model.ErrAggregatorClosed)
	}

	for _, col := range columns {
		if !a.seen[col] {
			a.seen[col] = true
			a.columns = append(a.columns, col)
		}
	}

	copied := make(map[string]string, len(row))
	for k, v := range row {
		copied[k] = v
	}
	a.rows = append(a.rows, copied)
	return nil
}

// Len returns the number of appended rows.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

// Finalize closes the aggregator and renders the table as a CSV artifact.
// Finalize is terminal; calling it twice fails with AggregatorClosed.
func (a *Aggregator) Finalize() (*model.Artifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("%w: already finalized", model.ErrAggregatorClosed)
	}
	a.closed = true

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(a.columns); err != nil {
		return nil, fmt.Errorf("write table header: %w", err)
	}

	line := make([]string, len(a.columns))
	for _, row := range a.rows {
		for i, col := range a.columns {
			line[i] = row[col]
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write table row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush table: %w", err)
	}

	return &model.Artifact{
		Format:    model.FormatTable,
		MessageID: "summary",
		Fields: map[string]string{
			"ID":   "summary",
			"Rows": strconv.Itoa(len(a.rows)),
		},
		Data: buf.Bytes(),
	}, nil
}
