package coords

// Transformer converts between the coordinate spaces of one page. It is a
// pure function of its PageGeometry; the only state is precomputed scale
// factors.
type Transformer struct {
	geom PageGeometry

	docToRaster  float64 // standard DPI / 72
	docToHighRes float64 // high-res DPI / 72
}

// NewTransformer creates a transformer bound to one page's geometry.
func NewTransformer(geom PageGeometry) *Transformer {
	return &Transformer{
		geom:         geom,
		docToRaster:  float64(geom.RasterDPI) / PointsPerInch,
		docToHighRes: float64(geom.HighResDPI) / PointsPerInch,
	}
}

// Geometry returns the page geometry the transformer is bound to.
func (t *Transformer) Geometry() PageGeometry {
	return t.geom
}

// DocumentToRasterAt converts document coordinates to pixel coordinates at
// the given DPI. Pure linear scale, no vertical flip: document and raster
// space share a top-left origin. Pixel values are integer-truncated. The
// conversion needs no page geometry, so it is usable without a Transformer.
func DocumentToRasterAt(c DocumentCoordinates, dpi int) RasterCoordinates {
	scale := float64(dpi) / PointsPerInch
	return RasterCoordinates{
		Left:   int(c.Left * scale),
		Top:    int(c.Top * scale),
		Width:  int(c.Width * scale),
		Height: int(c.Height * scale),
		DPI:    dpi,
	}
}

// DocumentToRaster converts document coordinates to pixel coordinates at the
// given DPI.
func (t *Transformer) DocumentToRaster(c DocumentCoordinates, dpi int) RasterCoordinates {
	return DocumentToRasterAt(c, dpi)
}

// RasterToDocument converts pixel coordinates back to document points using
// the DPI the pixels were measured at. Detection records pixels at
// DetectionDPI regardless of the page's display DPI, so the conversion must
// honor the coordinates' own DPI, never the page's nominal one.
func (t *Transformer) RasterToDocument(c RasterCoordinates) DocumentCoordinates {
	pointsPerPixel := PointsPerInch / float64(c.DPI)
	return DocumentCoordinates{
		Left:   float64(c.Left) * pointsPerPixel,
		Top:    float64(c.Top) * pointsPerPixel,
		Width:  float64(c.Width) * pointsPerPixel,
		Height: float64(c.Height) * pointsPerPixel,
	}
}

// displayScale returns the single uniform factor mapping the standard raster
// onto a display surface. Uniform scaling (min of the two axis factors)
// preserves the page aspect ratio; independent X/Y scales would distort.
func (t *Transformer) displayScale(surfaceWidth, surfaceHeight float64) float64 {
	scaleX := surfaceWidth / float64(t.geom.RasterWidth)
	scaleY := surfaceHeight / float64(t.geom.RasterHeight)
	if scaleX < scaleY {
		return scaleX
	}
	return scaleY
}

// RasterToDisplay converts standard-raster pixel coordinates to display
// coordinates on a surface of the given size.
func (t *Transformer) RasterToDisplay(c RasterCoordinates, surfaceWidth, surfaceHeight float64) DisplayCoordinates {
	scale := t.displayScale(surfaceWidth, surfaceHeight)
	return DisplayCoordinates{
		Left:          float64(c.Left) * scale,
		Top:           float64(c.Top) * scale,
		Width:         float64(c.Width) * scale,
		Height:        float64(c.Height) * scale,
		SurfaceWidth:  surfaceWidth,
		SurfaceHeight: surfaceHeight,
	}
}

// DisplayToRaster converts display coordinates back to standard-raster
// pixels, reversing the uniform scale.
func (t *Transformer) DisplayToRaster(c DisplayCoordinates) RasterCoordinates {
	scale := t.displayScale(c.SurfaceWidth, c.SurfaceHeight)
	return RasterCoordinates{
		Left:   int(c.Left / scale),
		Top:    int(c.Top / scale),
		Width:  int(c.Width / scale),
		Height: int(c.Height / scale),
		DPI:    t.geom.RasterDPI,
	}
}

// DocumentToDisplay composes DocumentToRaster at the standard DPI with
// RasterToDisplay.
func (t *Transformer) DocumentToDisplay(c DocumentCoordinates, surfaceWidth, surfaceHeight float64) DisplayCoordinates {
	raster := t.DocumentToRaster(c, t.geom.RasterDPI)
	return t.RasterToDisplay(raster, surfaceWidth, surfaceHeight)
}

// DisplayToDocument composes DisplayToRaster with RasterToDocument.
func (t *Transformer) DisplayToDocument(c DisplayCoordinates) DocumentCoordinates {
	return t.RasterToDocument(t.DisplayToRaster(c))
}

// DisplaySurfaceFor computes the largest surface inside (maxWidth, maxHeight)
// that matches the standard raster's aspect ratio: fit-to-width when the
// page is proportionally wider than the box, fit-to-height otherwise.
func (t *Transformer) DisplaySurfaceFor(maxWidth, maxHeight float64) (width, height float64) {
	aspect := float64(t.geom.RasterWidth) / float64(t.geom.RasterHeight)
	if aspect > maxWidth/maxHeight {
		return maxWidth, maxWidth / aspect
	}
	return maxHeight * aspect, maxHeight
}

// RegionTransformer converts between coordinates local to a cropped
// sub-image (a clipping) and absolute document coordinates. It is bound to
// the parent region's document rectangle and the DPI the clipping was
// rendered at.
type RegionTransformer struct {
	parent    DocumentCoordinates
	regionDPI int
	geom      PageGeometry

	// Clipping raster extent derived from the parent rectangle.
	regionWidthPx  int
	regionHeightPx int

	pointsPerPixel float64
}

// NewRegionTransformer creates a transformer for one clipping.
func NewRegionTransformer(parent DocumentCoordinates, regionDPI int, geom PageGeometry) *RegionTransformer {
	scale := float64(regionDPI) / PointsPerInch
	return &RegionTransformer{
		parent:         parent,
		regionDPI:      regionDPI,
		geom:           geom,
		regionWidthPx:  int(parent.Width * scale),
		regionHeightPx: int(parent.Height * scale),
		pointsPerPixel: PointsPerInch / float64(regionDPI),
	}
}

// RegionSize returns the clipping raster extent in pixels.
func (t *RegionTransformer) RegionSize() (width, height int) {
	return t.regionWidthPx, t.regionHeightPx
}

// RegionToDocument converts clipping-local pixels to absolute document
// coordinates: scale to points, then add the parent region's offset. The
// clipping's top-left corresponds to the parent's top-left in document space.
func (t *RegionTransformer) RegionToDocument(c RegionCoordinates) DocumentCoordinates {
	return DocumentCoordinates{
		Left:   t.parent.Left + float64(c.Left)*t.pointsPerPixel,
		Top:    t.parent.Top + float64(c.Top)*t.pointsPerPixel,
		Width:  float64(c.Width) * t.pointsPerPixel,
		Height: float64(c.Height) * t.pointsPerPixel,
	}
}

// DocumentToRegion converts absolute document coordinates to clipping-local
// pixels: subtract the parent offset, then scale back to pixels.
func (t *RegionTransformer) DocumentToRegion(c DocumentCoordinates) RegionCoordinates {
	return RegionCoordinates{
		Left:   int((c.Left - t.parent.Left) / t.pointsPerPixel),
		Top:    int((c.Top - t.parent.Top) / t.pointsPerPixel),
		Width:  int(c.Width / t.pointsPerPixel),
		Height: int(c.Height / t.pointsPerPixel),
		DPI:    t.regionDPI,
	}
}

// DisplayToRegion converts coordinates on a display surface showing the
// clipping into clipping-local pixels, reversing the uniform letterbox scale.
func (t *RegionTransformer) DisplayToRegion(c DisplayCoordinates) RegionCoordinates {
	scaleX := c.SurfaceWidth / float64(t.regionWidthPx)
	scaleY := c.SurfaceHeight / float64(t.regionHeightPx)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	return RegionCoordinates{
		Left:   int(c.Left / scale),
		Top:    int(c.Top / scale),
		Width:  int(c.Width / scale),
		Height: int(c.Height / scale),
		DPI:    t.regionDPI,
	}
}

// DisplayToDocument maps an annotation drawn over the displayed clipping to
// absolute document coordinates. This is the path symbol annotations take
// back to the page.
func (t *RegionTransformer) DisplayToDocument(c DisplayCoordinates) DocumentCoordinates {
	return t.RegionToDocument(t.DisplayToRegion(c))
}
