package filehandler

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultPreviewMaxDimension is the maximum dimension (width or height) for previews.
const DefaultPreviewMaxDimension = 1024

// previewQuality is the JPEG quality used for encoded previews.
const previewQuality = 80

// Preview is a downscaled rendition of an upload, suitable for display next
// to the analysis result.
type Preview struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// GeneratePreview decodes data and returns a JPEG no larger than maxDimension
// on either side, preserving the aspect ratio. Images already within bounds
// are re-encoded without scaling.
//
// Formats without a pure Go decoder (HEIC/HEIF) return an error; callers
// treat a missing preview as cosmetic.
func GeneratePreview(data []byte, maxDimension int) (*Preview, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultPreviewMaxDimension
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image for preview: %w", err)
	}

	bounds := img.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	newWidth, newHeight := calculateThumbnailDimensions(origWidth, origHeight, maxDimension)

	out := img
	if newWidth != origWidth || newHeight != origHeight {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	log.Debug().
		Str("source_format", format).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", buf.Len()).
		Msg("Preview generated")

	return &Preview{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Width:    newWidth,
		Height:   newHeight,
	}, nil
}

// calculateThumbnailDimensions calculates new dimensions maintaining aspect ratio.
func calculateThumbnailDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}

	if width > height {
		newHeight := int(float64(height) * float64(maxDimension) / float64(width))
		return maxDimension, max(newHeight, 1)
	}

	newWidth := int(float64(width) * float64(maxDimension) / float64(height))
	return max(newWidth, 1), maxDimension
}
