// Package filehandler turns uploaded image bytes into the pieces the analysis
// pipeline needs: a MIME type the model accepts, the embedded EXIF metadata,
// and a small preview image.
//
// Nothing in this package touches the network. Metadata extraction uses
// evanoberholster/imagemeta, which auto-detects JPEG, HEIC/HEIF, TIFF and
// friends from the header bytes, so callers never need to trust a file
// extension.
package filehandler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// SupportedImageExtensions maps the accepted upload extensions to the MIME
// type sent to Gemini alongside the inline image bytes.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	ext = strings.ToLower(ext)
	if mimeType, ok := SupportedImageExtensions[ext]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsSupportedMIMEType reports whether mimeType is one of the accepted image types.
func IsSupportedMIMEType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, m := range SupportedImageExtensions {
		if m == mimeType {
			return true
		}
	}
	return false
}

// DetectMIMEType resolves the MIME type of an upload. The filename extension
// wins when it is recognised; otherwise the leading bytes are sniffed. Uploads
// that are not images are rejected.
func DetectMIMEType(filename string, data []byte) (string, error) {
	if ext := filepath.Ext(filename); ext != "" {
		if mimeType, err := GetMIMEType(ext); err == nil {
			return mimeType, nil
		}
	}

	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}

	log.Debug().
		Str("filename", filename).
		Str("sniffed", sniffed).
		Msg("Falling back to content sniffing for MIME type")

	if !IsSupportedMIMEType(sniffed) {
		return "", fmt.Errorf("unsupported image type %q for %s", sniffed, filename)
	}
	return sniffed, nil
}
