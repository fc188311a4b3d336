// Package detect implements two-stage symbol detection: normalized
// cross-correlation template matching over edge maps generates candidates,
// and Intersection-over-Union shape verification rejects the false positives
// correlation alone lets through (dense crosshatching in particular).
package detect

import "errors"

// ErrInvalidInput marks malformed rasters or dimensions. Never retried.
var ErrInvalidInput = errors.New("invalid detection input")

// Edge detector thresholds. Fixed: the drawings this runs on are
// high-contrast line work and do not benefit from tuning per page.
const (
	cannyLowThreshold  = 50
	cannyHighThreshold = 200
)

// nmsDistancePx is the minimum center distance between kept candidates.
const nmsDistancePx = 100.0

// Params controls the detection algorithm. The zero value is not usable;
// start from DefaultParams and override fields as needed.
type Params struct {
	// MatchThreshold is the minimum normalized cross-correlation score for
	// a raw candidate.
	MatchThreshold float64 `json:"match_threshold" toml:"match_threshold"`

	// IoUThreshold is the minimum edge-mask IoU for a candidate to survive
	// shape verification.
	IoUThreshold float64 `json:"iou_threshold" toml:"iou_threshold"`

	// ScaleVariancePx expands the template size symmetrically: both target
	// dimensions are varied together by -v..+v pixels.
	ScaleVariancePx int `json:"scale_variance_px" toml:"scale_variance_px"`

	// Rotation sweep in whole degrees.
	RotationMin  int `json:"rotation_min" toml:"rotation_min"`
	RotationMax  int `json:"rotation_max" toml:"rotation_max"`
	RotationStep int `json:"rotation_step" toml:"rotation_step"`
}

// DefaultParams returns the tuned defaults for engineering-drawing symbols.
func DefaultParams() Params {
	return Params{
		MatchThreshold:  0.30,
		IoUThreshold:    0.32,
		ScaleVariancePx: 2,
		RotationMin:     -1,
		RotationMax:     1,
		RotationStep:    1,
	}
}

// Validate checks parameter sanity.
func (p Params) Validate() error {
	if p.MatchThreshold <= 0 || p.MatchThreshold > 1 {
		return errors.New("match threshold must be in (0, 1]")
	}
	if p.IoUThreshold <= 0 || p.IoUThreshold > 1 {
		return errors.New("IoU threshold must be in (0, 1]")
	}
	if p.ScaleVariancePx < 0 {
		return errors.New("scale variance must be non-negative")
	}
	if p.RotationStep <= 0 {
		return errors.New("rotation step must be positive")
	}
	if p.RotationMin > p.RotationMax {
		return errors.New("rotation range is inverted")
	}
	return nil
}
