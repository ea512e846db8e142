package filehandler

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// GPS holds the shooting position as human-readable decimal strings.
type GPS struct {
	Latitude  string `json:"latitude" dynamodbav:"latitude"`
	Longitude string `json:"longitude" dynamodbav:"longitude"`
}

// ImageMetadata is the normalised EXIF record of one uploaded image.
// Every field is optional; a record with no populated field is never
// produced (ExtractImageMetadata returns nil instead).
type ImageMetadata struct {
	Make         string `json:"make,omitempty" dynamodbav:"make,omitempty"`
	Model        string `json:"model,omitempty" dynamodbav:"model,omitempty"`
	FocalLength  string `json:"focalLength,omitempty" dynamodbav:"focalLength,omitempty"`
	FNumber      string `json:"fNumber,omitempty" dynamodbav:"fNumber,omitempty"`
	ISO          string `json:"iso,omitempty" dynamodbav:"iso,omitempty"`
	ExposureTime string `json:"exposureTime,omitempty" dynamodbav:"exposureTime,omitempty"`
	GPS          *GPS   `json:"gps,omitempty" dynamodbav:"gps,omitempty"`
}

// HasGPS reports whether a shooting position was recovered.
func (m *ImageMetadata) HasGPS() bool {
	return m != nil && m.GPS != nil
}

// exifTags is the raw tag subset read from the decoder. Zero means absent,
// which is also how imagemeta reports missing tags.
type exifTags struct {
	Make         string
	Model        string
	FocalLength  float64
	FNumber      float64
	ISO          float64
	ExposureTime float64

	HasGPS    bool
	Latitude  float64
	Longitude float64
}

// ExtractImageMetadata decodes the EXIF block embedded in data.
//
// It never fails: corrupt blocks, unsupported containers, non-image input and
// images without EXIF all yield nil. Callers cannot (and must not) tell "no
// metadata support" apart from "no metadata present".
func ExtractImageMetadata(data []byte) (meta *ImageMetadata) {
	if len(data) == 0 {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("panic", fmt.Sprint(r)).
				Int("size_bytes", len(data)).
				Msg("EXIF decoder panicked, continuing without metadata")
			meta = nil
		}
	}()

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Int("size_bytes", len(data)).Msg("No readable EXIF metadata")
		return nil
	}

	tags := exifTags{
		Make:         exifData.Make,
		Model:        exifData.Model,
		FocalLength:  narrow(float64(exifData.FocalLength)),
		FNumber:      narrow(float64(exifData.FNumber)),
		ISO:          float64(exifData.ISOSpeed),
		ExposureTime: narrow(float64(exifData.ExposureTime)),
	}

	// The library resolves the N/S and E/W references into signed degrees.
	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		tags.HasGPS = true
		tags.Latitude = gps.Latitude()
		tags.Longitude = gps.Longitude()
	}

	meta = newImageMetadata(tags)

	log.Debug().
		Bool("has_metadata", meta != nil).
		Bool("has_gps", meta.HasGPS()).
		Msg("Image metadata extraction complete")

	return meta
}

// newImageMetadata maps raw tags to display strings and returns nil when no
// field ends up populated.
func newImageMetadata(t exifTags) *ImageMetadata {
	m := &ImageMetadata{
		Make:  strings.TrimSpace(t.Make),
		Model: cleanExifString(t.Model),
	}

	if t.FocalLength > 0 {
		m.FocalLength = formatNumber(t.FocalLength) + " mm"
	}
	if t.FNumber > 0 {
		m.FNumber = formatNumber(t.FNumber)
	}
	if t.ISO > 0 {
		m.ISO = formatNumber(t.ISO)
	}
	if t.ExposureTime != 0 {
		m.ExposureTime = FormatExposureTime(t.ExposureTime)
	}
	if t.HasGPS {
		m.GPS = &GPS{
			Latitude:  strconv.FormatFloat(t.Latitude, 'f', 6, 64),
			Longitude: strconv.FormatFloat(t.Longitude, 'f', 6, 64),
		}
	}

	if *m == (ImageMetadata{}) {
		return nil
	}
	return m
}

// FormatExposureTime renders an exposure time in seconds the way cameras
// display it: whole or long exposures as-is, fractions as 1/N.
func FormatExposureTime(value float64) string {
	if value >= 1 {
		return formatNumber(value)
	}
	if value > 0 {
		return "1/" + strconv.FormatFloat(math.Round(1/value), 'f', -1, 64)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// narrow drops the widening noise of rationals the decoder holds as float32,
// so 4.2 stays 4.2 rather than 4.199999809265137.
func narrow(v float64) float64 {
	n, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', -1, 32), 64)
	if err != nil {
		return v
	}
	return n
}

// cleanExifString strips NUL padding that some cameras leave in ASCII tags.
func cleanExifString(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "\x00", ""))
}
