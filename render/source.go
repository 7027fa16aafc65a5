package render

import (
	"fmt"
	"os"
	"path/filepath"
)

// Source supplies template definitions by name. The renderer only reads
// them and never caches beyond one render call.
type Source interface {
	Lookup(name string) (string, error)
}

// The built-in document shape: headers, body and the attachment manifest.
const defaultDocument = `From:       {{.Fields.Sender}}
To:         {{.Fields.Recipients}}
Subject:    {{.Fields.Subject}}
Sent:       {{.Fields.Sent}}
Received:   {{.Fields.Received}}
Importance: {{.Fields.Importance}}
Message-ID: {{.Fields.ID}}

{{.Body}}
{{if .Attachments}}
Attachments:
{{range .Attachments}}- {{.Name}} ({{.Size}} bytes, {{.Kind}}){{with .Note}} [{{.}}]{{end}}
{{end}}{{end}}`

// The built-in row shape: the columns of the batch summary table, matching
// the classic export listing.
const defaultRow = `ID, Timestamp, Sent, Received, SenderName, SenderEmail, Subject, Recipients, Importance, AttachmentCount, Attachments, Source, Flags`

type builtinSource struct{}

// Builtin returns the source holding the built-in document and row shapes.
func Builtin() Source {
	return builtinSource{}
}

func (builtinSource) Lookup(name string) (string, error) {
	switch name {
	case "document":
		return defaultDocument, nil
	case "row":
		return defaultRow, nil
	default:
		return "", fmt.Errorf("unknown template %q", name)
	}
}

// DirSource reads templates from <dir>/<name>.tmpl, falling back to the
// built-in shapes for names it does not find.
type DirSource struct {
	Dir string
}

func (d *DirSource) Lookup(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.Dir, name+".tmpl"))
	if err != nil {
		if os.IsNotExist(err) {
			return Builtin().Lookup(name)
		}
		return "", fmt.Errorf("read template %q: %w", name, err)
	}
	return string(data), nil
}
