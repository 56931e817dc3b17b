package operation

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Artifact is a downloaded result, fully buffered in memory.
// It is owned by the caller once returned.
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
}

// NewArtifact builds an artifact and derives its filename from the handle.
// An empty contentType is detected from data.
func NewArtifact(h Handle, contentType string, data []byte) Artifact {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return Artifact{
		Data:        data,
		ContentType: contentType,
		Filename:    FilenameFor(h, contentType),
	}
}

// FilenameFor derives a filename from the last handle segment and the content type,
// e.g. "models/veo/operations/abc" + "video/mp4" -> "abc.mp4".
func FilenameFor(h Handle, contentType string) string {
	base := h.ShortID()
	if base == "" || base == "." || base == "/" {
		base = "artifact"
	}
	base = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, base)
	return base + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
