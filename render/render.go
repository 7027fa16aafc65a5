package render

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dhcgn/mail-export/model"
)

// Spec selects the template and output shape for one render call.
type Spec struct {
	Format   model.Format
	Template string
}

func (s Spec) templateName() string {
	if s.Template != "" {
		return s.Template
	}
	switch s.Format {
	case model.FormatTable:
		return "row"
	default:
		return "document"
	}
}

// Renderer applies templates to MessageRecords. Rendering is pure with
// respect to the record: no mutation and no I/O besides reading the
// template from the source collaborator.
type Renderer struct {
	src Source
}

func New(src Source) *Renderer {
	if src == nil {
		src = Builtin()
	}
	return &Renderer{src: src}
}

// Render produces one artifact for the record. A template referencing an
// unknown field fails with TemplateError; a failing output stream fails
// with RenderIOError. Both output shapes draw their values from the same
// field map, so document and row exports never diverge for one record.
func (r *Renderer) Render(rec *model.MessageRecord, spec Spec) (*model.Artifact, error) {
	fields := Fields(rec)

	art := &model.Artifact{
		Format:    spec.Format,
		MessageID: rec.ID,
		Fields:    fields,
	}

	text, err := r.src.Lookup(spec.templateName())
	if err != nil {
		return nil, fmt.Errorf("%w: lookup template %q: %v", model.ErrTemplate, spec.templateName(), err)
	}

	switch spec.Format {
	case model.FormatTable:
		columns, row, err := renderRow(text, fields)
		if err != nil {
			return nil, err
		}
		art.Columns = columns
		art.Row = row
	default:
		var buf bytes.Buffer
		if err := renderDocument(&buf, text, rec, fields); err != nil {
			return nil, err
		}
		art.Data = buf.Bytes()
	}

	return art, nil
}

type documentView struct {
	Fields      map[string]string
	Body        string
	Attachments []manifestEntry
}

type manifestEntry struct {
	Name string
	Size int64
	Kind string
	Note string
}

func renderDocument(w io.Writer, text string, rec *model.MessageRecord, fields map[string]string) error {
	tmpl, err := template.New("document").Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("%w: parse: %v", model.ErrTemplate, err)
	}

	view := documentView{
		Fields: fields,
		Body:   rec.BodyText,
	}
	for _, ref := range rec.Attachments {
		entry := manifestEntry{Name: ref.Name, Size: ref.Size, Kind: ref.MediaKind}
		if ref.Unavailable {
			entry.Note = "unavailable"
		}
		view.Attachments = append(view.Attachments, entry)
	}

	tw := &trackingWriter{w: w}
	if err := tmpl.Execute(tw, view); err != nil {
		if tw.err != nil {
			return fmt.Errorf("%w: %v", model.ErrRenderIO, tw.err)
		}
		return fmt.Errorf("%w: %v", model.ErrTemplate, err)
	}
	return nil
}

// renderRow interprets the template as an ordered, comma-separated column
// list and resolves each column against the field map.
func renderRow(text string, fields map[string]string) ([]string, map[string]string, error) {
	var columns []string
	row := make(map[string]string)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, col := range strings.Split(line, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			value, ok := fields[col]
			if !ok {
				return nil, nil, fmt.Errorf("%w: row column %q is not a record field", model.ErrTemplate, col)
			}
			columns = append(columns, col)
			row[col] = value
		}
	}

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("%w: row template defines no columns", model.ErrTemplate)
	}
	return columns, row, nil
}

// trackingWriter remembers the first write error so stream failures can be
// told apart from template failures.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

// Display formats shared by all outputs.
const (
	displayTime = "02.01.2006 15:04"
	stampTime   = "20060102-15uhr04"
)

// Fields flattens a record into the canonical field map used by document
// templates, table rows and file naming. Absent timestamps map to the
// empty string, not a zero time.
func Fields(rec *model.MessageRecord) map[string]string {
	var names []string
	for _, ref := range rec.Attachments {
		names = append(names, ref.Name)
	}

	var recipients []string
	for _, a := range rec.Recipients {
		recipients = append(recipients, a.String())
	}

	imp := "normal"
	if rec.Importance {
		imp = "high"
	}

	converted := ""
	if rec.BodyConverted {
		converted = "yes"
	}

	fields := map[string]string{
		"ID":              rec.ID,
		"Sender":          rec.Sender.String(),
		"SenderName":      rec.Sender.Name,
		"SenderEmail":     rec.Sender.Address,
		"Recipients":      strings.Join(recipients, "; "),
		"Subject":         rec.Subject,
		"Sent":            formatTime(rec.Sent, displayTime),
		"Received":        formatTime(rec.Received, displayTime),
		"Timestamp":       timestamp(rec),
		"Importance":      imp,
		"AttachmentCount": strconv.Itoa(len(rec.Attachments)),
		"Attachments":     strings.Join(names, "; "),
		"BodyConverted":   converted,
		"Source":          string(rec.Provenance.Kind),
		"Locator":         rec.Provenance.Locator,
		"Flags":           strings.Join(rec.Flags, ","),
	}
	return fields
}

// timestamp is the compact stamp used in generated file names, derived
// from the sent time with the received time as fallback.
func timestamp(rec *model.MessageRecord) string {
	if rec.Sent != nil {
		return rec.Sent.Format(stampTime)
	}
	return formatTime(rec.Received, stampTime)
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
