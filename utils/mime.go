package utils

import (
	"path/filepath"
	"strings"
)

const (
	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"

	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"

	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypeJSON is for model metadata such as labels.json.
	MimeTypeJSON = "application/json"
)

// MimeTypeFromPath guesses an image mime type from a file extension. Unknown extensions return
// the empty string.
func MimeTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return MimeTypeJPEG
	case ".png":
		return MimeTypePNG
	case ".qoi":
		return MimeTypeQOI
	case ".json":
		return MimeTypeJSON
	default:
		return ""
	}
}
