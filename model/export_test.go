package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrSourceUnavailable, "SourceUnavailable"},
		{fmt.Errorf("wrap: %w", ErrSourceUnavailable), "SourceUnavailable"},
		{ErrMalformedSource, "MalformedSource"},
		{ErrAttachmentRead, "AttachmentReadError"},
		{ErrTemplate, "TemplateError"},
		{ErrRenderIO, "RenderIOError"},
		{ErrPathResolution, "PathResolutionError"},
		{ErrWriteIO, "WriteIOError"},
		{ErrAggregatorClosed, "AggregatorClosed"},
		{ErrCancelled, KindCancelled},
		{errors.New("anything else"), "Error"},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestExportResult_Success(t *testing.T) {
	if !(ExportResult{}).Success() {
		t.Error("clean result not successful")
	}
	if (ExportResult{Kind: KindSkipped}).Success() {
		t.Error("skipped result reported successful")
	}
	if (ExportResult{Err: errors.New("x"), Kind: "Error"}).Success() {
		t.Error("failed result reported successful")
	}
}

func TestBatchReport_Counts(t *testing.T) {
	b := NewBatchReport()
	b.Append(ExportResult{MessageID: "a"})
	b.Append(ExportResult{MessageID: "b", Kind: KindDryRun})
	b.Append(ExportResult{MessageID: "c", Kind: KindSkipped})
	b.Append(ExportResult{MessageID: "d", Kind: KindCancelled})
	b.Append(ExportResult{MessageID: "e", Kind: "WriteIOError", Err: errors.New("disk full")})

	succeeded, failed, skipped := b.Counts()
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2 (clean and dry-run)", succeeded)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2 (skipped and cancelled)", skipped)
	}
	if b.Len() != 5 {
		t.Errorf("Len() = %d, want 5", b.Len())
	}
}

func TestBatchReport_AppendAfterFinalize(t *testing.T) {
	b := NewBatchReport()
	b.Append(ExportResult{MessageID: "a"})
	b.Finalize()
	b.Append(ExportResult{MessageID: "late"})

	if b.Len() != 1 {
		t.Errorf("Len() = %d, append after finalize must be ignored", b.Len())
	}
}

func TestAddress_String(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{Address{Name: "Hans", Address: "h@example.com"}, "Hans <h@example.com>"},
		{Address{Address: "h@example.com"}, "h@example.com"},
		{Address{Name: "Hans"}, "Hans"},
		{Address{}, ""},
	}
	for _, tt := range tests {
		if got := tt.addr.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestMessageRecord_Flag(t *testing.T) {
	rec := &MessageRecord{}
	rec.Flag(FlagSubjectMissing)
	rec.Flag(FlagSubjectMissing)

	if len(rec.Flags) != 1 {
		t.Errorf("Flags = %v, duplicate flag recorded twice", rec.Flags)
	}
	if !rec.Partial {
		t.Error("Partial = false after flagging")
	}
}
