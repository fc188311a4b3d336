package coords

import (
	"math"
	"testing"
)

func letterGeometry() PageGeometry {
	// US Letter at 150 DPI standard / 300 DPI high-res.
	return PageGeometry{
		PageNumber:    1,
		WidthPoints:   612,
		HeightPoints:  792,
		RasterWidth:   1275,
		RasterHeight:  1650,
		RasterDPI:     150,
		HighResWidth:  2550,
		HighResHeight: 3300,
		HighResDPI:    300,
	}
}

func TestDocumentRasterRoundTrip(t *testing.T) {
	tr := NewTransformer(letterGeometry())

	tests := []struct {
		name string
		in   DocumentCoordinates
		dpi  int
	}{
		{"standard dpi", DocumentCoordinates{Left: 100, Top: 200, Width: 50, Height: 40}, 150},
		{"detection dpi", DocumentCoordinates{Left: 72, Top: 36, Width: 22.56, Height: 22.56}, 300},
		{"near origin", DocumentCoordinates{Left: 0.4, Top: 0.4, Width: 10, Height: 10}, 300},
		{"full page", DocumentCoordinates{Left: 0, Top: 0, Width: 612, Height: 792}, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raster := tr.DocumentToRaster(tt.in, tt.dpi)
			back := tr.RasterToDocument(raster)

			// Integer truncation loses at most one pixel per field.
			tol := PointsPerInch / float64(tt.dpi)
			for name, pair := range map[string][2]float64{
				"left":   {tt.in.Left, back.Left},
				"top":    {tt.in.Top, back.Top},
				"width":  {tt.in.Width, back.Width},
				"height": {tt.in.Height, back.Height},
			} {
				if diff := math.Abs(pair[0] - pair[1]); diff > tol {
					t.Errorf("%s: got %.3f, want %.3f (±%.3f)", name, pair[1], pair[0], tol)
				}
			}
		})
	}
}

func TestDocumentToRasterNoVerticalFlip(t *testing.T) {
	tr := NewTransformer(letterGeometry())

	// A rectangle near the top of the page must stay near the top of the
	// raster: both spaces share a top-left origin.
	top := DocumentCoordinates{Left: 10, Top: 5, Width: 30, Height: 20}
	raster := tr.DocumentToRaster(top, 150)

	if raster.Top > 20 {
		t.Errorf("top-of-page rectangle mapped to raster top %d; vertical flip suspected", raster.Top)
	}
}

func TestZeroAreaPropagates(t *testing.T) {
	tr := NewTransformer(letterGeometry())

	zero := DocumentCoordinates{Left: 100, Top: 100, Width: 0, Height: 0}
	raster := tr.DocumentToRaster(zero, 300)
	if raster.Width != 0 || raster.Height != 0 {
		t.Errorf("zero area not propagated: got %dx%d", raster.Width, raster.Height)
	}
	if raster.Valid() {
		t.Error("zero-area raster coordinates reported valid")
	}
}

func TestDisplayRoundTrip(t *testing.T) {
	tr := NewTransformer(letterGeometry())

	in := RasterCoordinates{Left: 120, Top: 340, Width: 94, Height: 94, DPI: 150}
	display := tr.RasterToDisplay(in, MaxDisplayWidth, MaxDisplayHeight)
	back := tr.DisplayToRaster(display)

	if math.Abs(float64(back.Left-in.Left)) > 2 || math.Abs(float64(back.Top-in.Top)) > 2 ||
		math.Abs(float64(back.Width-in.Width)) > 2 || math.Abs(float64(back.Height-in.Height)) > 2 {
		t.Errorf("display round trip drifted: got %+v, want %+v", back, in)
	}
}

func TestDisplaySurfaceAspectPreserved(t *testing.T) {
	tests := []struct {
		name         string
		rasterW      int
		rasterH      int
		maxW, maxH   float64
	}{
		{"portrait page in landscape box", 1275, 1650, 1200, 900},
		{"landscape page", 1650, 1275, 1200, 900},
		{"square page", 1000, 1000, 1200, 900},
		{"wide panorama", 4000, 800, 1200, 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := letterGeometry()
			g.RasterWidth = tt.rasterW
			g.RasterHeight = tt.rasterH
			tr := NewTransformer(g)

			w, h := tr.DisplaySurfaceFor(tt.maxW, tt.maxH)
			if w > tt.maxW+1e-9 || h > tt.maxH+1e-9 {
				t.Errorf("surface %gx%g exceeds box %gx%g", w, h, tt.maxW, tt.maxH)
			}

			want := float64(tt.rasterW) / float64(tt.rasterH)
			got := w / h
			if math.Abs(got-want) > 0.01 {
				t.Errorf("aspect ratio: got %.4f, want %.4f", got, want)
			}
		})
	}
}

func TestDisplayUsesUniformScale(t *testing.T) {
	tr := NewTransformer(letterGeometry())

	// A square in raster space must stay square on a letterboxed surface.
	in := RasterCoordinates{Left: 0, Top: 0, Width: 200, Height: 200, DPI: 150}
	display := tr.RasterToDisplay(in, 1000, 400)
	if math.Abs(display.Width-display.Height) > 1e-9 {
		t.Errorf("square distorted on display: %.3fx%.3f", display.Width, display.Height)
	}
}

func TestRegionComposition(t *testing.T) {
	g := letterGeometry()
	parent := DocumentCoordinates{Left: 400, Top: 500, Width: 144, Height: 216}
	tr := NewRegionTransformer(parent, 300, g)

	in := RegionCoordinates{Left: 40, Top: 60, Width: 94, Height: 94, DPI: 300}
	doc := tr.RegionToDocument(in)

	// Recover the region-local box by subtracting the parent offset and
	// rescaling; must match within 2 pixels.
	scale := 300.0 / PointsPerInch
	gotLeft := (doc.Left - parent.Left) * scale
	gotTop := (doc.Top - parent.Top) * scale
	gotWidth := doc.Width * scale
	gotHeight := doc.Height * scale

	if math.Abs(gotLeft-float64(in.Left)) > 2 || math.Abs(gotTop-float64(in.Top)) > 2 ||
		math.Abs(gotWidth-float64(in.Width)) > 2 || math.Abs(gotHeight-float64(in.Height)) > 2 {
		t.Errorf("region composition drifted: got (%.1f,%.1f) %.1fx%.1f, want %+v",
			gotLeft, gotTop, gotWidth, gotHeight, in)
	}

	back := tr.DocumentToRegion(doc)
	if math.Abs(float64(back.Left-in.Left)) > 2 || math.Abs(float64(back.Top-in.Top)) > 2 {
		t.Errorf("inverse region transform drifted: got %+v, want %+v", back, in)
	}
}

func TestRegionDisplayToDocument(t *testing.T) {
	g := letterGeometry()
	parent := DocumentCoordinates{Left: 100, Top: 100, Width: 200, Height: 100}
	tr := NewRegionTransformer(parent, 300, g)

	regionW, regionH := tr.RegionSize()
	if regionW <= 0 || regionH <= 0 {
		t.Fatalf("degenerate region size %dx%d", regionW, regionH)
	}

	// Annotation covering the whole displayed clipping maps back onto the
	// whole parent rectangle.
	display := DisplayCoordinates{
		Left: 0, Top: 0,
		Width: float64(regionW), Height: float64(regionH),
		SurfaceWidth: float64(regionW), SurfaceHeight: float64(regionH),
	}
	doc := tr.DisplayToDocument(display)

	if math.Abs(doc.Left-parent.Left) > 1 || math.Abs(doc.Top-parent.Top) > 1 ||
		math.Abs(doc.Width-parent.Width) > 1 || math.Abs(doc.Height-parent.Height) > 1 {
		t.Errorf("full-clipping annotation: got %+v, want %+v", doc, parent)
	}
}

func TestClampToPage(t *testing.T) {
	g := letterGeometry()

	tests := []struct {
		name string
		in   DocumentCoordinates
		want DocumentCoordinates
	}{
		{
			"negative epsilon",
			DocumentCoordinates{Left: -0.3, Top: -0.2, Width: 100, Height: 100},
			DocumentCoordinates{Left: 0, Top: 0, Width: 99.7, Height: 99.8},
		},
		{
			"overhang right",
			DocumentCoordinates{Left: 600, Top: 0, Width: 50, Height: 50},
			DocumentCoordinates{Left: 600, Top: 0, Width: 12, Height: 50},
		},
		{
			"inside untouched",
			DocumentCoordinates{Left: 10, Top: 10, Width: 20, Height: 20},
			DocumentCoordinates{Left: 10, Top: 10, Width: 20, Height: 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampToPage(tt.in, g)
			if math.Abs(got.Left-tt.want.Left) > 1e-9 || math.Abs(got.Top-tt.want.Top) > 1e-9 ||
				math.Abs(got.Width-tt.want.Width) > 1e-9 || math.Abs(got.Height-tt.want.Height) > 1e-9 {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
