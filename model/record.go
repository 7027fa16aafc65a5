package model

import (
	"io"
	"time"
)

// SourceKind identifies which collaborator produced a raw message handle.
type SourceKind string

const (
	SourceKindMailbox SourceKind = "mailbox"
	SourceKindFile    SourceKind = "file"
)

// Provenance records where a message came from. The locator is kept for
// diagnostics only and is never used to re-fetch content during export.
type Provenance struct {
	Kind    SourceKind
	Locator string
}

// Flags recorded on records that could only be partially normalized.
const (
	FlagSubjectMissing  = "subject-missing"
	FlagSenderMissing   = "sender-missing"
	FlagDateMissing     = "date-missing"
	FlagBodyMissing     = "body-missing"
	FlagBodyConverted   = "body-converted"
	FlagAttachmentError = "attachment-error"
)

// Address is one parsed mailbox address with an optional display name.
type Address struct {
	Name    string
	Address string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	if a.Address == "" {
		return a.Name
	}
	return a.Name + " <" + a.Address + ">"
}

// MessageRecord is the canonical representation of one message. The ID is
// immutable once assigned: normalizing the same raw source twice yields the
// same ID. A record is owned by the pipeline invocation that created it and
// must not be retained after its export results are produced.
type MessageRecord struct {
	ID string

	Sender     Address
	Recipients []Address
	Subject    string
	Sent       *time.Time
	Received   *time.Time
	Importance bool

	BodyText      string
	BodyHTML      string
	BodyConverted bool

	Attachments []AttachmentRef

	Provenance Provenance

	Partial bool
	Flags   []string
}

// Flag marks the record as partially normalized.
func (r *MessageRecord) Flag(flag string) {
	for _, f := range r.Flags {
		if f == flag {
			return
		}
	}
	r.Flags = append(r.Flags, flag)
	r.Partial = true
}

// AttachmentRef describes one attachment of a record. Name is already
// sanitized for filesystem use and unique within the owning record. Content
// may be consumed exactly once; it is nil when Unavailable is set.
type AttachmentRef struct {
	Name      string
	Size      int64
	MediaKind string
	Content   io.ReadCloser

	Unavailable bool
	Err         error
}

// Release closes the underlying content handle, if any.
func (a *AttachmentRef) Release() {
	if a.Content != nil {
		_ = a.Content.Close()
		a.Content = nil
	}
}
