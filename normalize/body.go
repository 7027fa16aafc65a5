package normalize

import (
	"errors"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-export/model"
)

// fillBodies walks the inline MIME parts and populates the record's bodies.
// Rich text is preferred when both are present, but plain text is always
// populated so downstream rendering never depends on an optional field;
// deriving it from markup is recorded on the record.
func (n *Normalizer) fillBodies(mr *mail.Reader, rec *model.MessageRecord) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if n.logger != nil {
				n.logger.Warn("skipping unreadable part", "locator", rec.Provenance.Locator, "err", err)
			}
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch contentType {
		case "text/plain":
			if rec.BodyText == "" {
				rec.BodyText = string(body)
			}
		case "text/html":
			if rec.BodyHTML == "" {
				rec.BodyHTML = string(body)
			}
		}
	}

	if rec.BodyText == "" && rec.BodyHTML != "" {
		rec.BodyText = stripMarkup(rec.BodyHTML)
		rec.BodyConverted = true
		rec.Flags = append(rec.Flags, model.FlagBodyConverted)
	}

	if rec.BodyText == "" && rec.BodyHTML == "" {
		rec.Flag(model.FlagBodyMissing)
	}
}

var (
	scriptBlocks = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</\s*(script|style|head)\s*>`)
	lineBreaks   = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	anyTag       = regexp.MustCompile(`<[^>]*>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// stripMarkup derives a plain-text body from HTML.
func stripMarkup(src string) string {
	s := scriptBlocks.ReplaceAllString(src, "")
	s = lineBreaks.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
