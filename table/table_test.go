package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/dhcgn/mail-export/model"
)

func TestAggregator_UnionSchema(t *testing.T) {
	a := New()

	if err := a.Append([]string{"ID", "Subject"}, map[string]string{"ID": "1", "Subject": "first"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := a.Append([]string{"ID", "Error"}, map[string]string{"ID": "2", "Error": "SourceUnavailable"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	art, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(art.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse produced CSV: %v", err)
	}

	header := records[0]
	want := []string{"ID", "Subject", "Error"}
	if len(header) != len(want) {
		t.Fatalf("header = %v, want %v", header, want)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q (first-seen order)", i, header[i], want[i])
		}
	}

	// Rectangular: every row has one cell per column, absent values empty.
	if len(records) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows", len(records))
	}
	for i, row := range records[1:] {
		if len(row) != len(header) {
			t.Errorf("row %d has %d cells, want %d", i, len(row), len(header))
		}
	}
	if records[1][2] != "" {
		t.Errorf("row 1 Error = %q, want empty", records[1][2])
	}
	if records[2][1] != "" {
		t.Errorf("row 2 Subject = %q, want empty", records[2][1])
	}
}

func TestAggregator_RowOrderStable(t *testing.T) {
	a := New()
	for _, id := range []string{"x", "y", "z"} {
		if err := a.Append([]string{"ID"}, map[string]string{"ID": id}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	art, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(art.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse produced CSV: %v", err)
	}
	for i, id := range []string{"x", "y", "z"} {
		if records[i+1][0] != id {
			t.Errorf("row %d = %q, want %q", i, records[i+1][0], id)
		}
	}
}

func TestAggregator_AppendAfterFinalize(t *testing.T) {
	a := New()
	if _, err := a.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	err := a.Append([]string{"ID"}, map[string]string{"ID": "late"})
	if !errors.Is(err, model.ErrAggregatorClosed) {
		t.Errorf("error = %v, want ErrAggregatorClosed", err)
	}
}

func TestAggregator_FinalizeTwice(t *testing.T) {
	a := New()
	if _, err := a.Finalize(); err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	if _, err := a.Finalize(); !errors.Is(err, model.ErrAggregatorClosed) {
		t.Errorf("second Finalize() error = %v, want ErrAggregatorClosed", err)
	}
}

func TestAggregator_RowCopied(t *testing.T) {
	a := New()
	row := map[string]string{"ID": "1"}
	if err := a.Append([]string{"ID"}, row); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	row["ID"] = "mutated"

	art, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(art.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse produced CSV: %v", err)
	}
	if records[1][0] != "1" {
		t.Errorf("row = %q, caller mutation leaked into the aggregator", records[1][0])
	}
}

func TestAggregator_Len(t *testing.T) {
	a := New()
	if a.Len() != 0 {
		t.Errorf("Len() = %d, want 0", a.Len())
	}
	_ = a.Append([]string{"ID"}, map[string]string{"ID": "1"})
	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}
