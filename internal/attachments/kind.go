package attachments

import (
	"mime"
	"strings"

	"github.com/dustin/go-humanize"
)

// MediaKind groups content types the gallery page treats differently.
type MediaKind string

const (
	KindImage    MediaKind = "image"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
	KindOther    MediaKind = "other"
)

var documentTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain": {},
	"text/csv":   {},
}

// Kind classifies a MIME type. Parameters such as charset are ignored.
func Kind(contentType string) MediaKind {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}

	switch {
	case mt == "":
		return KindOther
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	}
	if _, ok := documentTypes[mt]; ok {
		return KindDocument
	}
	return KindOther
}

// HumanSize formats the attachment size, e.g. "1.2 MB".
func (d Descriptor) HumanSize() string {
	if d.Size <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(d.Size))
}
