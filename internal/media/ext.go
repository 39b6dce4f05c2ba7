package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extByMime covers the MIME types the provider declares but content
// sniffing can't always confirm (re-encoded payloads, zero-length
// previews). Sniffed results win when available.
var extByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",

	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"video/quicktime": ".mov",

	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/wav":  ".wav",
	"audio/aac":  ".aac",

	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",

	"application/zip":             ".zip",
	"application/vnd.rar":         ".rar",
	"application/x-7z-compressed": ".7z",

	"text/plain": ".txt",
	"text/vcard": ".vcf",
}

// detectMime returns the effective MIME type for an attachment,
// preferring content sniffing over the provider's declaration.
func detectMime(data []byte, declared string) string {
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt.String() != "application/octet-stream" {
			return mt.String()
		}
	}
	if declared != "" {
		// Strip codec parameters like "audio/ogg; codecs=opus".
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = strings.TrimSpace(declared[:i])
		}
		return declared
	}
	return "application/octet-stream"
}

// extensionFor derives a file extension for a MIME type, falling back
// to content sniffing and then to a generic binary extension.
func extensionFor(mime string, data []byte) string {
	if ext, ok := extByMime[mime]; ok {
		return ext
	}
	if len(data) > 0 {
		if ext := mimetype.Detect(data).Extension(); ext != "" {
			return ext
		}
	}
	return ".bin"
}
