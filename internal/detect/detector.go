package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"symbol-detect/internal/coords"
	"symbol-detect/pkg/geometry"
)

// Detect finds instances of a symbol template on one page raster.
//
// The page and template must be non-empty; multi-channel inputs are
// converted to grayscale. targetWidth/targetHeight are the expected symbol
// size in page pixels at the detection DPI, usually the template's own pixel
// dimensions. The page raster itself must have been rendered at
// coords.DetectionDPI; candidate raster coordinates are recorded at that DPI
// and document coordinates derived from it, regardless of the page's nominal
// display DPI.
func Detect(page, template gocv.Mat, targetWidth, targetHeight int, geom coords.PageGeometry, p Params) (*Result, error) {
	if page.Empty() {
		return nil, fmt.Errorf("%w: page raster is empty", ErrInvalidInput)
	}
	if template.Empty() {
		return nil, fmt.Errorf("%w: template raster is empty", ErrInvalidInput)
	}
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, fmt.Errorf("%w: target dimensions %dx%d must be positive",
			ErrInvalidInput, targetWidth, targetHeight)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	pageGray, ownsPage := ensureGray(page)
	if ownsPage {
		defer pageGray.Close()
	}
	templateGray, ownsTemplate := ensureGray(template)
	if ownsTemplate {
		defer templateGray.Close()
	}

	// One edge map of the page serves both stages.
	pageEdges := gocv.NewMat()
	defer pageEdges.Close()
	gocv.Canny(pageGray, &pageEdges, cannyLowThreshold, cannyHighThreshold)

	variants := buildVariants(templateGray, targetWidth, targetHeight, p)
	defer variants.Close()

	result := &Result{SkippedVariants: variants.skipped}

	// Stage 1: candidate generation across every variant.
	var raw []rawMatch
	for key, tplEdges := range variants.edges {
		matches, ok := matchVariant(pageEdges, tplEdges, key, p.MatchThreshold)
		if !ok {
			result.SkippedVariants++
			continue
		}
		raw = append(raw, matches...)
	}
	result.RawMatches = len(raw)

	deduped := dedupeByDistance(raw, nmsDistancePx)
	result.Deduplicated = len(deduped)

	// Stage 2: shape verification by edge-mask IoU, then transformation to
	// document space.
	transformer := coords.NewTransformer(geom)
	for i, m := range deduped {
		key := variantKey{width: m.width, height: m.height, angle: m.angle}
		tplEdges, ok := variants.edges[key]
		if !ok {
			continue
		}

		iou, ok := verifyShape(pageEdges, tplEdges, m)
		if !ok || iou < p.IoUThreshold {
			continue
		}

		raster := coords.RasterCoordinates{
			Left:   int(m.point.X),
			Top:    int(m.point.Y),
			Width:  m.width,
			Height: m.height,
			DPI:    coords.DetectionDPI,
		}
		result.Candidates = append(result.Candidates, Candidate{
			ID:             i,
			Raster:         raster,
			Document:       transformer.RasterToDocument(raster),
			Confidence:     m.confidence,
			IoU:            iou,
			Angle:          m.angle,
			TemplateWidth:  m.width,
			TemplateHeight: m.height,
			Status:         StatusPending,
		})
	}

	return result, nil
}

// ensureGray returns a single-channel view of m, converting when needed.
// The second return value reports whether the caller owns a new Mat.
func ensureGray(m gocv.Mat) (gocv.Mat, bool) {
	if m.Channels() == 1 {
		return m, false
	}
	gray := gocv.NewMat()
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	return gray, true
}

// matchVariant runs normalized cross-correlation of one template variant
// against the page edge map and collects every location at or above the
// match threshold.
func matchVariant(pageEdges, tplEdges gocv.Mat, key variantKey, threshold float64) ([]rawMatch, bool) {
	// A variant larger than the page cannot be matched; skip it rather
	// than aborting the whole call.
	if tplEdges.Rows() > pageEdges.Rows() || tplEdges.Cols() > pageEdges.Cols() {
		return nil, false
	}

	scores := gocv.NewMat()
	defer scores.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(pageEdges, tplEdges, &scores, gocv.TmCcoeffNormed, mask)
	if scores.Empty() {
		return nil, false
	}

	var matches []rawMatch
	rows, cols := scores.Rows(), scores.Cols()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			score := float64(scores.GetFloatAt(y, x))
			if score < threshold {
				continue
			}
			matches = append(matches, rawMatch{
				point:      geometry.NewPoint2D(float64(x), float64(y)),
				confidence: score,
				width:      key.width,
				height:     key.height,
				angle:      key.angle,
			})
		}
	}
	return matches, true
}

// verifyShape re-slices the page edge map at the candidate's exact location
// and computes the IoU of the two binary edge masks against the variant that
// produced the match. Correlation alone accepts dense line work; edge-shape
// IoU rejects it.
func verifyShape(pageEdges, tplEdges gocv.Mat, m rawMatch) (float64, bool) {
	x, y := int(m.point.X), int(m.point.Y)
	if x < 0 || y < 0 || x+m.width > pageEdges.Cols() || y+m.height > pageEdges.Rows() {
		return 0, false
	}

	clip := pageEdges.Region(image.Rect(x, y, x+m.width, y+m.height))
	defer clip.Close()

	if clip.Rows() != tplEdges.Rows() || clip.Cols() != tplEdges.Cols() {
		return 0, false
	}

	intersection := gocv.NewMat()
	defer intersection.Close()
	gocv.BitwiseAnd(clip, tplEdges, &intersection)

	union := gocv.NewMat()
	defer union.Close()
	gocv.BitwiseOr(clip, tplEdges, &union)

	unionCount := gocv.CountNonZero(union)
	if unionCount == 0 {
		return 0, false
	}
	return float64(gocv.CountNonZero(intersection)) / float64(unionCount), true
}
