// Package coords defines the coordinate spaces used throughout symbol
// detection and the conversions between them.
//
// Document space (points, 1/72 inch, top-left origin) is the single source
// of truth; raster, display, and region coordinates are all derived from it.
// Both the rendering engine and the document convention used here share a
// top-left origin, so no conversion performs a vertical flip. If a rendering
// backend with a bottom-left origin is ever introduced, the flip belongs at
// that boundary, not in this package.
package coords

import "symbol-detect/pkg/geometry"

const (
	// PointsPerInch is the document unit: 72 points per inch.
	PointsPerInch = 72.0

	// DetectionDPI is the fixed resolution detection runs at, independent
	// of the DPI a page is displayed at.
	DetectionDPI = 300

	// MaxDisplayWidth and MaxDisplayHeight bound the default display
	// surface that pages are letterboxed into.
	MaxDisplayWidth  = 1200.0
	MaxDisplayHeight = 900.0
)

// DocumentCoordinates is a rectangle in document space: points, top-left
// origin.
type DocumentCoordinates struct {
	Left   float64 `json:"left_points"`
	Top    float64 `json:"top_points"`
	Width  float64 `json:"width_points"`
	Height float64 `json:"height_points"`
}

// Valid reports whether the coordinates describe a positive-area rectangle.
// Small negative left/top values from rounding are tolerated; callers clamp
// to page bounds before use downstream.
func (c DocumentCoordinates) Valid() bool {
	return c.Width > 0 && c.Height > 0
}

// RasterCoordinates is a rectangle in the pixel space of a full-page image
// rendered at a specific DPI. Top-left origin.
type RasterCoordinates struct {
	Left   int `json:"left_pixels"`
	Top    int `json:"top_pixels"`
	Width  int `json:"width_pixels"`
	Height int `json:"height_pixels"`
	DPI    int `json:"dpi"`
}

// Valid reports whether the coordinates describe a positive-area rectangle
// with a usable DPI.
func (c RasterCoordinates) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.DPI > 0
}

// DisplayCoordinates is a rectangle in the pixel space of an aspect-preserving
// scaled rendering of a page. The surface dimensions are carried because the
// surface is letterboxed and the scale cannot be recovered without them.
type DisplayCoordinates struct {
	Left          float64 `json:"left_display_pixels"`
	Top           float64 `json:"top_display_pixels"`
	Width         float64 `json:"width_display_pixels"`
	Height        float64 `json:"height_display_pixels"`
	SurfaceWidth  float64 `json:"surface_width_pixels"`
	SurfaceHeight float64 `json:"surface_height_pixels"`
}

// Valid reports whether the coordinates describe a positive-area rectangle
// on a positive-area surface.
func (c DisplayCoordinates) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.SurfaceWidth > 0 && c.SurfaceHeight > 0
}

// RegionCoordinates is a rectangle in the pixel space of a cropped sub-image
// (a clipping, e.g. an extracted legend) rendered at a specific DPI.
type RegionCoordinates struct {
	Left   int `json:"left_region_pixels"`
	Top    int `json:"top_region_pixels"`
	Width  int `json:"width_region_pixels"`
	Height int `json:"height_region_pixels"`
	DPI    int `json:"region_dpi"`
}

// Valid reports whether the coordinates describe a positive-area rectangle
// with a usable DPI.
func (c RegionCoordinates) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.DPI > 0
}

// PageGeometry holds everything needed to transform coordinates for one
// page. Produced by the upstream pipeline; read-only here.
type PageGeometry struct {
	PageNumber int `json:"page_number"`

	// Document size in points and the page rotation.
	WidthPoints     float64 `json:"pdf_width_points"`
	HeightPoints    float64 `json:"pdf_height_points"`
	RotationDegrees int     `json:"pdf_rotation_degrees"`

	// Standard-resolution raster used for display.
	RasterWidth  int `json:"image_width_pixels"`
	RasterHeight int `json:"image_height_pixels"`
	RasterDPI    int `json:"image_dpi"`

	// High-resolution raster used for clipping extraction.
	HighResWidth  int `json:"high_res_image_width_pixels"`
	HighResHeight int `json:"high_res_image_height_pixels"`
	HighResDPI    int `json:"high_res_dpi"`
}

// Valid reports whether the geometry carries usable dimensions.
func (g PageGeometry) Valid() bool {
	return g.WidthPoints > 0 && g.HeightPoints > 0 &&
		g.RasterWidth > 0 && g.RasterHeight > 0 && g.RasterDPI > 0
}

// Bounds returns the page rectangle in document space.
func (g PageGeometry) Bounds() DocumentCoordinates {
	return DocumentCoordinates{Width: g.WidthPoints, Height: g.HeightPoints}
}

// ClampToPage restricts document coordinates to the page bounds, absorbing
// the small negative offsets integer truncation can introduce.
func ClampToPage(c DocumentCoordinates, g PageGeometry) DocumentCoordinates {
	clamped := geometry.NewRect(c.Left, c.Top, c.Width, c.Height).
		ClampTo(geometry.NewRect(0, 0, g.WidthPoints, g.HeightPoints))
	return DocumentCoordinates{
		Left:   clamped.X,
		Top:    clamped.Y,
		Width:  clamped.Width,
		Height: clamped.Height,
	}
}
