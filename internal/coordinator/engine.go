package coordinator

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/detect"
	"symbol-detect/internal/raster"
)

// Engine is the production Detector backed by the OpenCV matching pipeline.
type Engine struct{}

// NewEngine creates the OpenCV-backed detector.
func NewEngine() *Engine {
	return &Engine{}
}

// OpenTemplate loads a template image into a grayscale Mat held for the
// symbol's whole pass.
func (e *Engine) OpenTemplate(path string) (Template, error) {
	mat, err := raster.LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	return &matTemplate{mat: mat}, nil
}

type matTemplate struct {
	mat gocv.Mat
}

func (t *matTemplate) Size() (int, int) {
	return t.mat.Cols(), t.mat.Rows()
}

func (t *matTemplate) DetectPage(ctx context.Context, page image.Image, geom coords.PageGeometry, p detect.Params) ([]detect.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageMat, err := raster.GrayMat(page)
	if err != nil {
		return nil, err
	}
	defer pageMat.Close()

	w, h := t.Size()
	result, err := detect.Detect(pageMat, t.mat, w, h, geom, p)
	if err != nil {
		return nil, err
	}
	return result.Candidates, nil
}

func (t *matTemplate) Close() error {
	return t.mat.Close()
}

// WriteOverlay renders candidate boxes onto the page raster for visual
// inspection of a run.
func (e *Engine) WriteOverlay(page image.Image, candidates []detect.Candidate, path string) error {
	pageMat, err := raster.GrayMat(page)
	if err != nil {
		return err
	}
	defer pageMat.Close()

	overlay := gocv.NewMat()
	defer overlay.Close()
	gocv.CvtColor(pageMat, &overlay, gocv.ColorGrayToBGR)

	for _, c := range candidates {
		// Strong matches green, borderline ones orange.
		box := color.RGBA{R: 0, G: 200, B: 0, A: 255}
		if c.IoU < 0.5 {
			box = color.RGBA{R: 255, G: 140, B: 0, A: 255}
		}
		r := image.Rect(c.Raster.Left, c.Raster.Top, c.Raster.Left+c.Raster.Width, c.Raster.Top+c.Raster.Height)
		gocv.Rectangle(&overlay, r, box, 2)
		label := fmt.Sprintf("%.2f/%.2f", c.Confidence, c.IoU)
		gocv.PutText(&overlay, label, image.Pt(c.Raster.Left, c.Raster.Top-4),
			gocv.FontHersheySimplex, 0.5, box, 1)
	}

	if ok := gocv.IMWrite(path, overlay); !ok {
		return fmt.Errorf("write overlay image %s", path)
	}
	return nil
}
