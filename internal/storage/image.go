package storage

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/starford/inkwell/internal/apperr"
)

// svgSniffLen bounds how far into a file the <svg root element is looked for.
const svgSniffLen = 1024

// ImageExts lists the supported image extensions in their canonical form.
var ImageExts = []string{".png", ".jpg", ".gif", ".svg", ".webp"}

// SniffImage returns the canonical extension for data's content, or "" when
// data is not a supported image.
func SniffImage(data []byte) string {
	mime, _, _ := strings.Cut(http.DetectContentType(data), ";")
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	head := data[:min(len(data), svgSniffLen)]
	if bytes.Contains(head, []byte("<svg")) {
		return ".svg"
	}
	return ""
}

// ImageExt maps an extension or MIME type to its canonical extension, or ""
// when it is not a supported image type.
func ImageExt(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if mime, _, ok := strings.Cut(s, ";"); ok {
		s = mime
	}
	if !strings.Contains(s, "/") && !strings.HasPrefix(s, ".") {
		s = "." + s
	}
	for ext, mime := range imageTypes {
		if s == ext || s == mime {
			return canonicalExt(ext)
		}
	}
	return ""
}

// checkImage verifies data is an image of the type named by ext.
func checkImage(ext string, data []byte) error {
	want := ImageExt(ext)
	if want == "" {
		return apperr.Invalid("unsupported image type: %s", ext)
	}
	got := SniffImage(data)
	if got == "" {
		return apperr.Invalid("content is not a supported image (%s)", strings.Join(ImageExts, ", "))
	}
	if got != want {
		return apperr.Invalid("content is %s, not %s", got, want)
	}
	return nil
}

func canonicalExt(ext string) string {
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}
