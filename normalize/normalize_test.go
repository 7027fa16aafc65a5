package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/source"
)

func memHandle(raw string) source.Handle {
	var b []byte
	if raw != "" {
		b = []byte(raw)
	}
	return source.NewMemHandle(model.SourceKindFile, "test.eml", b)
}

const simpleMessage = "Message-ID: <abc123@example.com>\r\n" +
	"From: Hans Mueller <hans@example.com>\r\n" +
	"To: Erika <erika@example.com>\r\n" +
	"Subject: Quarterly report\r\n" +
	"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find the report attached.\r\n"

func TestNormalize_Simple(t *testing.T) {
	n := New(Options{}, nil)

	rec, err := n.Normalize(memHandle(simpleMessage))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.ID != "abc123@example.com" {
		t.Errorf("ID = %q, want abc123@example.com", rec.ID)
	}
	if rec.Sender.Address != "hans@example.com" {
		t.Errorf("Sender.Address = %q, want hans@example.com", rec.Sender.Address)
	}
	if rec.Sender.Name != "Hans Mueller" {
		t.Errorf("Sender.Name = %q, want Hans Mueller", rec.Sender.Name)
	}
	if len(rec.Recipients) != 1 || rec.Recipients[0].Address != "erika@example.com" {
		t.Errorf("Recipients = %v, want one erika@example.com", rec.Recipients)
	}
	if rec.Subject != "Quarterly report" {
		t.Errorf("Subject = %q, want Quarterly report", rec.Subject)
	}
	if rec.Sent == nil {
		t.Fatal("Sent is nil, want parsed date")
	}
	if !strings.Contains(rec.BodyText, "report attached") {
		t.Errorf("BodyText = %q, want body content", rec.BodyText)
	}
	if rec.Partial {
		t.Errorf("Partial = true with flags %v, want complete record", rec.Flags)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	// No Message-ID header: the identity must come from the content hash
	// and stay stable across runs.
	raw := "From: a@example.com\r\n" +
		"Subject: Hi\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
		"\r\n" +
		"hello\r\n"

	n := New(Options{}, nil)

	first, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("first Normalize() error = %v", err)
	}
	second, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("second Normalize() error = %v", err)
	}

	if first.ID == "" {
		t.Fatal("ID is empty")
	}
	if first.ID != second.ID {
		t.Errorf("IDs diverge: %q vs %q", first.ID, second.ID)
	}
	if len(first.ID) != 16 {
		t.Errorf("hash identity length = %d, want 16", len(first.ID))
	}
}

func TestNormalize_StaleHandle(t *testing.T) {
	n := New(Options{}, nil)

	_, err := n.Normalize(memHandle(""))
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}
}

func TestNormalize_EmptySource(t *testing.T) {
	n := New(Options{}, nil)

	_, err := n.Normalize(source.NewMemHandle(model.SourceKindFile, "blank.eml", []byte("   \r\n")))
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}
}

func TestNormalize_NoSender(t *testing.T) {
	raw := "Subject: orphan\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
		"\r\n" +
		"body\r\n"

	n := New(Options{}, nil)

	_, err := n.Normalize(memHandle(raw))
	if !errors.Is(err, model.ErrMalformedSource) {
		t.Errorf("error = %v, want ErrMalformedSource", err)
	}
}

func TestNormalize_KnownSenderFillsAddress(t *testing.T) {
	raw := "From: Hans Mueller\r\n" +
		"Subject: no address\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
		"\r\n" +
		"body\r\n"

	n := New(Options{KnownSenders: map[string]string{"Hans Mueller": "hans@example.com"}}, nil)

	rec, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Sender.Address != "hans@example.com" {
		t.Errorf("Sender.Address = %q, want filled from known senders", rec.Sender.Address)
	}
}

func TestNormalize_MissingSubjectFlags(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
		"\r\n" +
		"body\r\n"

	n := New(Options{}, nil)

	rec, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !rec.Partial {
		t.Error("Partial = false, want true")
	}
	if !hasFlag(rec.Flags, model.FlagSubjectMissing) {
		t.Errorf("Flags = %v, want %s", rec.Flags, model.FlagSubjectMissing)
	}
}

func TestNormalize_MissingDateFlags(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: undated\r\n" +
		"\r\n" +
		"body\r\n"

	n := New(Options{}, nil)

	rec, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Sent != nil || rec.Received != nil {
		t.Errorf("Sent = %v, Received = %v, want both nil", rec.Sent, rec.Received)
	}
	if !hasFlag(rec.Flags, model.FlagDateMissing) {
		t.Errorf("Flags = %v, want %s", rec.Flags, model.FlagDateMissing)
	}
}

func TestNormalize_LegacyDate(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: legacy stamp\r\n" +
		"Date: 24.12.2023 18:30:00\r\n" +
		"\r\n" +
		"body\r\n"

	n := New(Options{}, nil)

	rec, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Sent == nil {
		t.Fatal("Sent is nil, want legacy layout parsed")
	}
	if rec.Sent.Day() != 24 || rec.Sent.Month() != 12 || rec.Sent.Year() != 2023 {
		t.Errorf("Sent = %v, want 24.12.2023", rec.Sent)
	}
	if hasFlag(rec.Flags, model.FlagDateMissing) {
		t.Errorf("Flags = %v, date must not be flagged missing", rec.Flags)
	}
}

func TestNormalize_HTMLOnlyBody(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: rich text\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>Hello <b>World</b></p></body></html>\r\n"

	n := New(Options{}, nil)

	rec, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !rec.BodyConverted {
		t.Error("BodyConverted = false, want true")
	}
	if !strings.Contains(rec.BodyText, "Hello") || strings.Contains(rec.BodyText, "<b>") {
		t.Errorf("BodyText = %q, want markup stripped", rec.BodyText)
	}
	if !hasFlag(rec.Flags, model.FlagBodyConverted) {
		t.Errorf("Flags = %v, want %s", rec.Flags, model.FlagBodyConverted)
	}
	if rec.Partial {
		t.Error("Partial = true; a converted body is not a partial record")
	}
}

func TestNormalize_EncodedSubject(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0100\r\n" +
		"\r\n" +
		"body\r\n"

	n := New(Options{}, nil)

	rec, err := n.Normalize(memHandle(raw))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Subject != "Grüße" {
		t.Errorf("Subject = %q, want decoded Grüße", rec.Subject)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		nil_ bool
	}{
		{"rfc5322", "Mon, 02 Jan 2023 15:04:05 +0100", false},
		{"legacy seconds", "24.12.2023 18:30:00", false},
		{"legacy minutes", "24.12.2023 18:30", false},
		{"rfc3339", "2023-12-24T18:30:00+01:00", false},
		{"epoch", "1700000000", false},
		{"empty", "", true},
		{"garbage", "not a date", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.in)
			if (got == nil) != tt.nil_ {
				t.Errorf("parseTimestamp(%q) = %v, want nil=%v", tt.in, got, tt.nil_)
			}
		})
	}
}

func TestReceivedTime(t *testing.T) {
	received := "from mx.example.com by mail.example.com; Mon, 02 Jan 2023 16:00:00 +0100"
	got := receivedTime(received, "")
	if got == nil {
		t.Fatal("receivedTime() = nil, want parsed delivery time")
	}
	if got.Hour() != 16 {
		t.Errorf("hour = %d, want 16", got.Hour())
	}
}

func TestReceivedTime_DeliveryFallback(t *testing.T) {
	got := receivedTime("", "1700000000")
	if got == nil {
		t.Fatal("receivedTime() = nil, want epoch fallback")
	}
}

func TestSplitSender(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantName    string
		wantAddress string
	}{
		{"angle address", `"Mueller, Hans" <hans@example.com>`, "Mueller, Hans", "hans@example.com"},
		{"bare name", "Hans Mueller", "Hans Mueller", ""},
		{"bare address", "hans@example.com", "", "hans@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSender(tt.in)
			if got.Name != tt.wantName || got.Address != tt.wantAddress {
				t.Errorf("splitSender(%q) = %+v, want {%q %q}", tt.in, got, tt.wantName, tt.wantAddress)
			}
		})
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
