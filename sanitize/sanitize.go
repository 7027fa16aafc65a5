package sanitize

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxPathLength is the longest path the export writer will produce. It
// matches the classic Windows MAX_PATH limit the message files came from.
const MaxPathLength = 260

// TruncationMarker is appended to a file name that had to be shortened.
const TruncationMarker = "..."

var spaceRun = regexp.MustCompile(`\s+`)

// Sequences replaced before the per-character table is applied.
var sequenceReplacer = strings.NewReplacer(
	"_-_", "-",
	" - ", "-",
	"._", "_",
	"_.", "_",
	" .", "_",
	". ", "_",
	" / ", "_",
	" & ", "_",
	"; ", "_",
	"/ ", "_",
	" | ", "_",
)

var charReplacer = strings.NewReplacer(
	" ", "_",
	"#", "_",
	"%", "_",
	"&", "_",
	"*", "-",
	"{", "-",
	"}", "-",
	"\\", "-",
	":", "",
	"<", "-",
	">", "-",
	"?", "-",
	"/", "_",
	"|", "_",
	"\"", "",
	"ä", "ae",
	"Ä", "Ae",
	"ö", "oe",
	"Ö", "Oe",
	"ü", "ue",
	"Ü", "Ue",
	"ß", "ss",
	"é", "e",
	",", "",
	"!", "",
	"'", "_",
	";", "_",
	"“", "",
	"„", "",
)

// Name cleans a string so it can be used as a file name: whitespace runs are
// collapsed, known awkward sequences are rewritten and characters that are
// illegal or unwanted in file names are replaced deterministically.
func Name(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.TrimRight(s, " ")
	s = sequenceReplacer.Replace(s)
	s = charReplacer.Replace(s)
	return s
}

// Truncate shortens the file name portion of path so the whole path does not
// exceed maxLength. The extension is preserved and the truncation marker is
// inserted before it.
func Truncate(path string, maxLength int) string {
	if len(path) <= maxLength {
		return path
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	budget := maxLength - len(dir) - 1 - len(TruncationMarker) - len(ext)
	if budget < 1 {
		budget = 1
	}
	if len(stem) > budget {
		stem = stem[:budget]
	}

	return filepath.Join(dir, stem+TruncationMarker+ext)
}

// Dedupe returns name, disambiguated with a numeric suffix if it is already
// present in taken, and records the final choice. The suffix is inserted
// before the extension: "report.pdf" becomes "report-1.pdf".
func Dedupe(name string, taken map[string]bool) string {
	if !taken[name] {
		taken[name] = true
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}
