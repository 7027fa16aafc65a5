package normalize

import (
	"mime"
	netmail "net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"

	"github.com/dhcgn/mail-export/model"
)

// decodeHeader decodes RFC 2047 encoded words, tolerating legacy charsets.
// On decode failure the raw value is returned so no header is lost.
func decodeHeader(h string) string {
	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := dec.DecodeHeader(h)
	if err != nil {
		return strings.TrimSpace(h)
	}
	return strings.TrimSpace(decoded)
}

var angleAddr = regexp.MustCompile(`<(.*?)>`)

// splitSender pulls a display name and address out of a sender string that
// the strict address parsers rejected, e.g. `"Mueller, Hans" <h@example.com>`
// or a bare display name.
func splitSender(s string) model.Address {
	var addr model.Address
	if m := angleAddr.FindStringSubmatch(s); m != nil {
		addr.Address = strings.TrimSpace(m[1])
	}
	name := angleAddr.ReplaceAllString(s, "")
	name = strings.ReplaceAll(name, "\"", "")
	addr.Name = strings.TrimSpace(name)

	if addr.Address == "" && strings.Contains(addr.Name, "@") && !strings.Contains(addr.Name, " ") {
		addr.Address = addr.Name
		addr.Name = ""
	}
	return addr
}

// Legacy timestamp layouts seen in exported message files. The first is the
// display format the original Outlook exports wrote into headers.
var legacyLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02T15:04:05Z07:00",
}

// parseTimestamp normalizes the historically distinct timestamp encodings
// into one timezone-aware time: RFC 5322 dates, the legacy display formats
// and bare epoch seconds. An unparseable value yields nil (absent), never
// an error.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if t, err := netmail.ParseDate(s); err == nil {
		return &t
	}

	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		t := time.Unix(secs, 0)
		return &t
	}

	return nil
}

// receivedTime extracts the delivery time from the topmost Received header
// (the part after the final semicolon) or a numeric X-Delivery-Time header.
func receivedTime(received, deliveryTime string) *time.Time {
	if idx := strings.LastIndex(received, ";"); idx >= 0 {
		if ts := parseTimestamp(received[idx+1:]); ts != nil {
			return ts
		}
	}
	return parseTimestamp(deliveryTime)
}

// importance reads the Outlook importance flag or the X-Priority fallback.
func importance(imp, priority string) bool {
	if strings.EqualFold(strings.TrimSpace(imp), "high") {
		return true
	}
	priority = strings.TrimSpace(priority)
	return strings.HasPrefix(priority, "1") || strings.HasPrefix(priority, "2")
}
