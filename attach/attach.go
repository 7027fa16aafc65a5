package attach

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/sanitize"
	"github.com/dhcgn/mail-export/source"
)

// CollisionPolicy decides what happens when two attachments of one record
// share a name after sanitization.
type CollisionPolicy string

const (
	// CollisionSuffix disambiguates duplicates with a deterministic
	// numeric suffix. This is the default.
	CollisionSuffix CollisionPolicy = "suffix"
	// CollisionSkip drops the later duplicate.
	CollisionSkip CollisionPolicy = "skip"
)

// Policy configures attachment handling. The zero value keeps everything:
// no size limit, all media kinds, suffix disambiguation.
type Policy struct {
	// MaxAttachmentBytes drops (and flags) attachments larger than this
	// many bytes instead of failing the record. Zero means no limit.
	MaxAttachmentBytes int64
	// AllowedKinds filters attachments by inferred media kind. Empty
	// means allow all.
	AllowedKinds []string
	// NameCollision selects the duplicate-name policy.
	NameCollision CollisionPolicy
}

func (p Policy) allows(kind string) bool {
	if len(p.AllowedKinds) == 0 {
		return true
	}
	for _, k := range p.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Resolver enumerates the attachments of a raw message handle.
type Resolver struct {
	policy Policy
	logger *slog.Logger
}

func NewResolver(policy Policy, logger *slog.Logger) *Resolver {
	if policy.NameCollision == "" {
		policy.NameCollision = CollisionSuffix
	}
	return &Resolver{policy: policy, logger: logger}
}

// Resolve opens the handle and returns a lazy sequence of its attachments.
// The sequence is finite and not restartable; the caller owns it and must
// call Release when done.
func (r *Resolver) Resolve(h source.Handle) (*Sequence, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAttachmentRead, err)
	}

	mr, err := mail.CreateReader(rc)
	if err != nil {
		_ = rc.Close()
		// Not a MIME message: nothing to resolve.
		return &Sequence{done: true}, nil
	}

	return &Sequence{
		mr:      mr,
		rc:      rc,
		policy:  r.policy,
		logger:  r.logger,
		locator: h.Locator(),
		taken:   make(map[string]bool),
	}, nil
}

// Sequence yields the attachments of one record in message order. Each
// returned ref's content must be consumed (or released) before the next
// call to Next.
type Sequence struct {
	mr      *mail.Reader
	rc      io.ReadCloser
	policy  Policy
	logger  *slog.Logger
	locator string
	taken   map[string]bool
	done    bool
}

// Next returns the next attachment. The second return value is false once
// the sequence is exhausted. A failure to read one attachment yields a
// flagged, content-absent ref rather than ending the sequence.
func (s *Sequence) Next() (model.AttachmentRef, bool) {
	if s.done {
		return model.AttachmentRef{}, false
	}

	for {
		part, err := s.mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.done = true
			return model.AttachmentRef{}, false
		}
		if err != nil {
			s.done = true
			return model.AttachmentRef{
				Unavailable: true,
				Err:         fmt.Errorf("%w: %s: %v", model.ErrAttachmentRead, s.locator, err),
			}, true
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}

		filename, err := header.Filename()
		if err != nil || filename == "" {
			filename = "attachment"
		}
		contentType, _, _ := header.ContentType()

		kind := MediaKind(contentType, filename)
		if !s.policy.allows(kind) {
			if s.logger != nil {
				s.logger.Debug("attachment kind filtered", "locator", s.locator, "name", filename, "kind", kind)
			}
			continue
		}

		name := sanitize.Name(filename)
		if s.taken[name] && s.policy.NameCollision == CollisionSkip {
			if s.logger != nil {
				s.logger.Debug("duplicate attachment skipped", "locator", s.locator, "name", name)
			}
			continue
		}
		name = sanitize.Dedupe(name, s.taken)

		return s.read(part.Body, name, kind), true
	}
}

// read buffers one attachment, enforcing the size policy and isolating
// read failures to this single attachment.
func (s *Sequence) read(body io.Reader, name, kind string) model.AttachmentRef {
	ref := model.AttachmentRef{Name: name, MediaKind: kind}

	limit := s.policy.MaxAttachmentBytes
	var buf bytes.Buffer
	var n int64
	var err error

	if limit > 0 {
		n, err = io.CopyN(&buf, body, limit+1)
	} else {
		n, err = io.Copy(&buf, body)
	}

	if err != nil && !errors.Is(err, io.EOF) {
		ref.Unavailable = true
		ref.Err = fmt.Errorf("%w: %s/%s: %v", model.ErrAttachmentRead, s.locator, name, err)
		return ref
	}

	if limit > 0 && n > limit {
		// Oversized: drain to report the exact size, drop the content.
		rest, _ := io.Copy(io.Discard, body)
		ref.Size = n + rest
		ref.Unavailable = true
		ref.Err = fmt.Errorf("attachment %s exceeds %d bytes (%d)", name, limit, ref.Size)
		if s.logger != nil {
			s.logger.Warn("oversized attachment dropped", "locator", s.locator, "name", name, "size", ref.Size)
		}
		return ref
	}

	ref.Size = n
	ref.Content = io.NopCloser(bytes.NewReader(buf.Bytes()))
	return ref
}

// Collect drains the sequence into a slice. Content handles stay open.
func (s *Sequence) Collect() []model.AttachmentRef {
	var refs []model.AttachmentRef
	for {
		ref, ok := s.Next()
		if !ok {
			return refs
		}
		refs = append(refs, ref)
	}
}

// Release closes the underlying message stream. Refs already returned stay
// readable.
func (s *Sequence) Release() {
	s.done = true
	if s.rc != nil {
		_ = s.rc.Close()
		s.rc = nil
	}
}
