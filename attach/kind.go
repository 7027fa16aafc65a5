package attach

import (
	"mime"
	"path/filepath"
	"strings"
)

// Media kinds used by the attachment policy filter.
const (
	KindDocument = "document"
	KindImage    = "image"
	KindAudio    = "audio"
	KindVideo    = "video"
	KindArchive  = "archive"
	KindText     = "text"
	KindMessage  = "message"
	KindOther    = "other"
)

var archiveSubtypes = map[string]bool{
	"zip": true, "x-7z-compressed": true, "x-tar": true,
	"gzip": true, "x-rar-compressed": true, "x-bzip2": true,
}

var documentSubtypes = []string{
	"pdf", "msword", "vnd.ms-excel", "vnd.ms-powerpoint",
	"vnd.openxmlformats-officedocument", "vnd.oasis.opendocument", "rtf",
}

// MediaKind infers a coarse media kind from the declared content type,
// falling back to the filename extension.
func MediaKind(contentType, filename string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
			contentType = byExt
		}
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return KindOther
	}

	main, sub, _ := strings.Cut(mediaType, "/")
	switch main {
	case "image":
		return KindImage
	case "audio":
		return KindAudio
	case "video":
		return KindVideo
	case "text":
		return KindText
	case "message":
		return KindMessage
	case "application":
		if archiveSubtypes[sub] {
			return KindArchive
		}
		for _, d := range documentSubtypes {
			if strings.HasPrefix(sub, d) {
				return KindDocument
			}
		}
	}
	return KindOther
}
