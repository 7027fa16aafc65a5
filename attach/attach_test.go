package attach

import (
	"io"
	"testing"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/source"
)

const multipartMessage = "From: a@example.com\r\n" +
	"To: b@example.com\r\n" +
	"Subject: files\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=MIXED\r\n" +
	"\r\n" +
	"--MIXED\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attachments\r\n" +
	"--MIXED\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--MIXED\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"PDFDATA-2\r\n" +
	"--MIXED--\r\n"

func multipartHandle() source.Handle {
	return source.NewMemHandle(model.SourceKindFile, "files.eml", []byte(multipartMessage))
}

func TestResolve_CollectsAttachments(t *testing.T) {
	r := NewResolver(Policy{}, nil)

	seq, err := r.Resolve(multipartHandle())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer seq.Release()

	refs := seq.Collect()
	if len(refs) != 2 {
		t.Fatalf("got %d attachments, want 2", len(refs))
	}

	first := refs[0]
	if first.Name != "report.pdf" {
		t.Errorf("Name = %q, want report.pdf", first.Name)
	}
	if first.MediaKind != KindDocument {
		t.Errorf("MediaKind = %q, want %s", first.MediaKind, KindDocument)
	}
	if first.Unavailable {
		t.Fatalf("first attachment unavailable: %v", first.Err)
	}

	data, err := io.ReadAll(first.Content)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(data) != "PDFDATA" {
		t.Errorf("content = %q, want PDFDATA", data)
	}
	if first.Size != int64(len("PDFDATA")) {
		t.Errorf("Size = %d, want %d", first.Size, len("PDFDATA"))
	}
}

func TestResolve_DuplicateNames_Suffix(t *testing.T) {
	r := NewResolver(Policy{NameCollision: CollisionSuffix}, nil)

	seq, err := r.Resolve(multipartHandle())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer seq.Release()

	refs := seq.Collect()
	if len(refs) != 2 {
		t.Fatalf("got %d attachments, want 2", len(refs))
	}
	if refs[0].Name != "report.pdf" || refs[1].Name != "report-1.pdf" {
		t.Errorf("names = %q, %q; want report.pdf, report-1.pdf", refs[0].Name, refs[1].Name)
	}
}

func TestResolve_DuplicateNames_Skip(t *testing.T) {
	r := NewResolver(Policy{NameCollision: CollisionSkip}, nil)

	seq, err := r.Resolve(multipartHandle())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer seq.Release()

	refs := seq.Collect()
	if len(refs) != 1 {
		t.Fatalf("got %d attachments, want 1 (duplicate skipped)", len(refs))
	}
}

func TestResolve_KindFilter(t *testing.T) {
	r := NewResolver(Policy{AllowedKinds: []string{KindImage}}, nil)

	seq, err := r.Resolve(multipartHandle())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer seq.Release()

	if refs := seq.Collect(); len(refs) != 0 {
		t.Errorf("got %d attachments, want 0 (kind filtered)", len(refs))
	}
}

func TestResolve_SizeLimit(t *testing.T) {
	r := NewResolver(Policy{MaxAttachmentBytes: 4}, nil)

	seq, err := r.Resolve(multipartHandle())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer seq.Release()

	refs := seq.Collect()
	if len(refs) != 2 {
		t.Fatalf("got %d attachments, want 2", len(refs))
	}

	for _, ref := range refs {
		if !ref.Unavailable {
			t.Errorf("%s: Unavailable = false, want oversized drop", ref.Name)
		}
		if ref.Content != nil {
			t.Errorf("%s: content retained for oversized attachment", ref.Name)
		}
		if ref.Err == nil {
			t.Errorf("%s: Err = nil, want size error", ref.Name)
		}
	}
	if refs[0].Size != int64(len("PDFDATA")) {
		t.Errorf("Size = %d, want exact size %d", refs[0].Size, len("PDFDATA"))
	}
}

func TestResolve_NonMIME(t *testing.T) {
	raw := "From: a@example.com\r\nSubject: plain\r\n\r\njust text\r\n"
	h := source.NewMemHandle(model.SourceKindFile, "plain.eml", []byte(raw))

	r := NewResolver(Policy{}, nil)
	seq, err := r.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer seq.Release()

	if refs := seq.Collect(); len(refs) != 0 {
		t.Errorf("got %d attachments from plain message, want 0", len(refs))
	}
}

func TestMediaKind(t *testing.T) {
	tests := []struct {
		contentType string
		filename    string
		want        string
	}{
		{"application/pdf", "a.pdf", KindDocument},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "a.docx", KindDocument},
		{"application/zip", "a.zip", KindArchive},
		{"image/png", "a.png", KindImage},
		{"audio/mpeg", "a.mp3", KindAudio},
		{"video/mp4", "a.mp4", KindVideo},
		{"text/csv", "a.csv", KindText},
		{"message/rfc822", "fwd.eml", KindMessage},
		{"application/octet-stream", "photo.png", KindImage},
		{"", "unknown.bin", KindOther},
	}

	for _, tt := range tests {
		if got := MediaKind(tt.contentType, tt.filename); got != tt.want {
			t.Errorf("MediaKind(%q, %q) = %q, want %q", tt.contentType, tt.filename, got, tt.want)
		}
	}
}

func TestPolicy_Allows(t *testing.T) {
	open := Policy{}
	if !open.allows(KindOther) {
		t.Error("empty policy must allow every kind")
	}

	strict := Policy{AllowedKinds: []string{KindDocument, KindImage}}
	if !strict.allows(KindImage) {
		t.Error("allowed kind rejected")
	}
	if strict.allows(KindArchive) {
		t.Error("disallowed kind accepted")
	}
}
