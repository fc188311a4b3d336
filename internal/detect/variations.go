package detect

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// variantKey identifies one scaled+rotated template variant.
type variantKey struct {
	width  int
	height int
	angle  int
}

// variantSet holds the edge maps of every template variant for one Detect
// call. The cache is owned by that call and closed with it; it is never
// shared across calls, which keeps Detect stateless and parallelizable
// across symbols.
type variantSet struct {
	edges   map[variantKey]gocv.Mat
	skipped int
}

func (v *variantSet) Close() {
	for _, m := range v.edges {
		m.Close()
	}
	v.edges = nil
}

// buildVariants produces the edge map of the template resized to every
// scale variant and rotated through the configured sweep. A variant that
// fails to build (degenerate size after variance) is skipped, not fatal.
func buildVariants(template gocv.Mat, targetWidth, targetHeight int, p Params) *variantSet {
	set := &variantSet{edges: make(map[variantKey]gocv.Mat)}

	for v := -p.ScaleVariancePx; v <= p.ScaleVariancePx; v++ {
		w := targetWidth + v
		h := targetHeight + v
		if w <= 0 || h <= 0 {
			set.skipped++
			continue
		}

		for angle := p.RotationMin; angle <= p.RotationMax; angle += p.RotationStep {
			edges, ok := buildVariant(template, w, h, angle)
			if !ok {
				set.skipped++
				continue
			}
			set.edges[variantKey{width: w, height: h, angle: angle}] = edges
		}
	}
	return set
}

// buildVariant resizes and rotates the template, then returns its edge map.
func buildVariant(template gocv.Mat, width, height, angle int) (gocv.Mat, bool) {
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(template, &scaled, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if scaled.Empty() {
		return gocv.Mat{}, false
	}

	rotated := gocv.NewMat()
	defer rotated.Close()
	if angle == 0 {
		scaled.CopyTo(&rotated)
	} else {
		center := image.Pt(width/2, height/2)
		rot := gocv.GetRotationMatrix2D(center, float64(angle), 1.0)
		defer rot.Close()
		// White border fill: drawing backgrounds are white, so rotation
		// must not introduce dark corner edges.
		gocv.WarpAffineWithParams(scaled, &rotated, rot, image.Pt(width, height),
			gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}

	edges := gocv.NewMat()
	gocv.Canny(rotated, &edges, cannyLowThreshold, cannyHighThreshold)
	if edges.Empty() {
		edges.Close()
		return gocv.Mat{}, false
	}
	return edges, true
}
