package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	netmail "net/mail"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/source"
)

// Options configures the normalizer.
type Options struct {
	// KnownSenders maps a sender display name to an address, filling in
	// addresses for senders whose header only carries a name.
	KnownSenders map[string]string
}

// Normalizer converts raw message handles into canonical MessageRecords.
// Both source kinds (mailbox item, standalone message file) are handled
// behind the Handle interface.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Normalizer {
	return &Normalizer{opts: opts, logger: logger}
}

// Normalize produces a MessageRecord from one raw handle. A stale or
// unreadable handle fails with SourceUnavailable, a message whose required
// headers cannot be parsed fails with MalformedSource. Missing optional
// fields (subject, timestamps, body) flag the record as partial instead of
// failing it. Normalization is idempotent: the same raw source always
// yields the same identity and field values.
func (n *Normalizer) Normalize(h source.Handle) (*model.MessageRecord, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrSourceUnavailable, h.Locator(), err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", model.ErrSourceUnavailable, h.Locator())
	}

	rec := &model.MessageRecord{
		Provenance: model.Provenance{Kind: h.Kind(), Locator: h.Locator()},
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME-clean; fall back to plain header parsing so simple
		// messages still normalize.
		if err := n.normalizeBasic(raw, rec); err != nil {
			return nil, err
		}
	} else {
		if err := n.normalizeMIME(mr, rec); err != nil {
			return nil, err
		}
	}

	rec.ID = identity(rec, raw)

	if n.logger != nil {
		n.logger.Debug("normalized message",
			"id", rec.ID, "locator", rec.Provenance.Locator, "partial", rec.Partial)
	}
	return rec, nil
}

func (n *Normalizer) normalizeMIME(mr *mail.Reader, rec *model.MessageRecord) error {
	header := mr.Header

	if err := n.fillSender(headerFields{
		from: func() ([]model.Address, error) { return addressList(header.AddressList("From")) },
		raw:  func(name string) string { return header.Get(name) },
	}, rec); err != nil {
		return err
	}

	rec.Recipients = n.recipients(
		func(field string) ([]model.Address, error) { return addressList(header.AddressList(field)) },
		func(field string) string { return header.Get(field) },
	)

	if subject, err := header.Subject(); err == nil && subject != "" {
		rec.Subject = subject
	} else {
		rec.Subject = decodeHeader(header.Get("Subject"))
		if rec.Subject == "" {
			rec.Flag(model.FlagSubjectMissing)
		}
	}

	if sent, err := header.Date(); err == nil && !sent.IsZero() {
		rec.Sent = &sent
	} else if ts := parseTimestamp(header.Get("Date")); ts != nil {
		rec.Sent = ts
	}
	rec.Received = receivedTime(header.Get("Received"), header.Get("X-Delivery-Time"))
	if rec.Sent == nil && rec.Received == nil {
		rec.Flag(model.FlagDateMissing)
	}

	rec.Importance = importance(header.Get("Importance"), header.Get("X-Priority"))

	n.fillBodies(mr, rec)
	return nil
}

// normalizeBasic recovers headers and a plain-text body from messages the
// MIME reader rejects.
func (n *Normalizer) normalizeBasic(raw []byte, rec *model.MessageRecord) error {
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrMalformedSource, rec.Provenance.Locator, err)
	}

	get := func(name string) string { return msg.Header.Get(name) }

	if err := n.fillSender(headerFields{
		from: func() ([]model.Address, error) {
			addrs, err := msg.Header.AddressList("From")
			return netAddresses(addrs), err
		},
		raw: get,
	}, rec); err != nil {
		return err
	}

	rec.Recipients = n.recipients(
		func(field string) ([]model.Address, error) {
			addrs, err := msg.Header.AddressList(field)
			return netAddresses(addrs), err
		},
		get,
	)

	rec.Subject = decodeHeader(get("Subject"))
	if rec.Subject == "" {
		rec.Flag(model.FlagSubjectMissing)
	}

	rec.Sent = parseTimestamp(get("Date"))
	rec.Received = receivedTime(get("Received"), get("X-Delivery-Time"))
	if rec.Sent == nil && rec.Received == nil {
		rec.Flag(model.FlagDateMissing)
	}

	rec.Importance = importance(get("Importance"), get("X-Priority"))

	body, err := io.ReadAll(msg.Body)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		rec.Flag(model.FlagBodyMissing)
	} else {
		rec.BodyText = string(body)
	}
	return nil
}

type headerFields struct {
	from func() ([]model.Address, error)
	raw  func(name string) string
}

// fillSender resolves the sender from the From header. A From header that
// cannot be parsed as an address list falls back to splitting the raw
// string; a missing From header is a malformed source.
func (n *Normalizer) fillSender(hdr headerFields, rec *model.MessageRecord) error {
	if addrs, err := hdr.from(); err == nil && len(addrs) > 0 {
		rec.Sender = addrs[0]
	} else {
		rawFrom := decodeHeader(hdr.raw("From"))
		if strings.TrimSpace(rawFrom) == "" {
			return fmt.Errorf("%w: %s has no sender", model.ErrMalformedSource, rec.Provenance.Locator)
		}
		rec.Sender = splitSender(rawFrom)
		if rec.Sender.Address == "" {
			rec.Flag(model.FlagSenderMissing)
		}
	}

	if rec.Sender.Address == "" && n.opts.KnownSenders != nil {
		if addr, ok := n.opts.KnownSenders[rec.Sender.Name]; ok {
			rec.Sender.Address = addr
		}
	}
	return nil
}

func (n *Normalizer) recipients(
	list func(field string) ([]model.Address, error),
	raw func(field string) string,
) []model.Address {
	var out []model.Address
	for _, field := range []string{"To", "Cc"} {
		if addrs, err := list(field); err == nil {
			out = append(out, addrs...)
			continue
		}
		for _, part := range strings.Split(decodeHeader(raw(field)), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, splitSender(part))
		}
	}
	return out
}

func addressList(addrs []*mail.Address, err error) ([]model.Address, error) {
	if err != nil {
		return nil, err
	}
	out := make([]model.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Address{Name: a.Name, Address: a.Address})
	}
	return out, nil
}

func netAddresses(addrs []*netmail.Address) []model.Address {
	out := make([]model.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Address{Name: a.Name, Address: a.Address})
	}
	return out
}

// identity derives the stable record identity: the Message-ID header when
// present, otherwise a content hash of the raw source.
func identity(rec *model.MessageRecord, raw []byte) string {
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err == nil {
		id := strings.TrimSpace(msg.Header.Get("Message-Id"))
		if id == "" {
			id = strings.TrimSpace(msg.Header.Get("Message-ID"))
		}
		id = strings.Trim(id, " <>")
		if id != "" {
			return id
		}
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}
