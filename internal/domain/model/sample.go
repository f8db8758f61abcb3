// Package model contains domain models passed between layers.
package model

import "time"

// SampleFormat describes how InputSample.Data is laid out.
type SampleFormat string

const (
	// FormatEncoded is a compressed image (JPEG, PNG or WebP).
	FormatEncoded SampleFormat = "encoded"
	// FormatRGB8 is a packed 8-bit RGB pixel buffer, row-major.
	FormatRGB8 SampleFormat = "rgb8"
	// FormatRGBA8 is a packed 8-bit RGBA pixel buffer, row-major.
	FormatRGBA8 SampleFormat = "rgba8"
)

// GeoPoint is an optional capture location.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// InputSample is a single captured frame. It is immutable once captured;
// the pipeline never writes to Data.
type InputSample struct {
	ID         string
	Data       []byte
	Format     SampleFormat
	Width      int // raw formats only
	Height     int // raw formats only
	CapturedAt time.Time
	Location   *GeoPoint
}
