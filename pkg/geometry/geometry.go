// Package geometry provides basic geometric types shared across the application.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Rect represents a rectangle with floating-point coordinates, top-left origin.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect creates a new Rect.
func NewRect(x, y, width, height float64) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// ClampTo restricts the rectangle to the bounds of another rectangle.
// The clamped rectangle keeps as much of its extent as fits.
func (r Rect) ClampTo(bounds Rect) Rect {
	x := math.Max(r.X, bounds.X)
	y := math.Max(r.Y, bounds.Y)
	w := math.Min(r.X+r.Width, bounds.X+bounds.Width) - x
	h := math.Min(r.Y+r.Height, bounds.Y+bounds.Height) - y
	return Rect{X: x, Y: y, Width: w, Height: h}
}
