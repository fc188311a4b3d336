// Package raster loads page and template images and bridges them into
// OpenCV Mats for the detection pipeline.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"

	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned when a raster has no pixels.
var ErrEmptyImage = fmt.Errorf("empty image")

// GrayMat converts an image to a single-channel 8-bit Mat. The caller owns
// the returned Mat and must Close it.
func GrayMat(src image.Image) (gocv.Mat, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, ErrEmptyImage
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), src, bounds.Min, draw.Src)

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, gray.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image to mat: %w", err)
	}
	return mat, nil
}

// LoadTemplate loads a symbol template raster from disk as a grayscale Mat.
func LoadTemplate(path string) (gocv.Mat, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("open template %s: %w", path, err)
	}
	return GrayMat(img)
}

// PageRenderer produces page rasters at a requested DPI. Rasterization from
// the source document is an external concern; implementations may render on
// demand or serve pre-rendered images.
type PageRenderer interface {
	// RenderPage returns the raster for a 1-based page number at the
	// requested DPI.
	RenderPage(ctx context.Context, pageNumber, dpi int) (image.Image, error)
	Close() error
}

// DirRenderer serves pre-rendered page images from a document directory,
// rescaling to the requested DPI. Pages are expected under <dir>/pages as
// page_<n>.<ext> rendered at a known base DPI.
type DirRenderer struct {
	dir     string
	baseDPI int
}

// pageExtensions are tried in order when locating a page image.
var pageExtensions = []string{".png", ".tiff", ".tif", ".jpg", ".jpeg"}

// NewDirRenderer creates a renderer over pre-rendered page images.
func NewDirRenderer(docDir string, baseDPI int) (*DirRenderer, error) {
	pagesDir := filepath.Join(docDir, "pages")
	info, err := os.Stat(pagesDir)
	if err != nil {
		return nil, fmt.Errorf("page images not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("page images path %s is not a directory", pagesDir)
	}
	if baseDPI <= 0 {
		return nil, fmt.Errorf("base DPI must be positive, got %d", baseDPI)
	}
	return &DirRenderer{dir: pagesDir, baseDPI: baseDPI}, nil
}

// RenderPage loads the pre-rendered image for a page and rescales it to the
// requested DPI when it differs from the base DPI.
func (r *DirRenderer) RenderPage(ctx context.Context, pageNumber, dpi int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageNumber < 1 {
		return nil, fmt.Errorf("invalid page number %d", pageNumber)
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid DPI %d", dpi)
	}

	path, err := r.pagePath(pageNumber)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page %d: %w", pageNumber, err)
	}

	if dpi == r.baseDPI {
		return img, nil
	}

	scale := float64(dpi) / float64(r.baseDPI)
	bounds := img.Bounds()
	w := int(float64(bounds.Dx()) * scale)
	h := int(float64(bounds.Dy()) * scale)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("page %d degenerates to %dx%d at %d DPI", pageNumber, w, h, dpi)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

func (r *DirRenderer) pagePath(pageNumber int) (string, error) {
	for _, ext := range pageExtensions {
		path := filepath.Join(r.dir, fmt.Sprintf("page_%d%s", pageNumber, ext))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no rendered image for page %d in %s", pageNumber, r.dir)
}

// Close releases renderer resources. DirRenderer holds no open handles but
// satisfies the PageRenderer contract that every renderer is closed on all
// run exit paths.
func (r *DirRenderer) Close() error {
	return nil
}
