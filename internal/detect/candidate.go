package detect

import (
	"symbol-detect/internal/coords"
)

// Status is the review state of a detection. Closed enumeration; persisted
// as its string form.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusModified Status = "modified"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusModified:
		return true
	}
	return false
}

// Candidate is one verified symbol instance found on a page. Raster
// coordinates are recorded at the detection DPI; document coordinates are
// derived from them and are the durable form.
type Candidate struct {
	ID         int                        `json:"candidateId"`
	Raster     coords.RasterCoordinates   `json:"imageCoords"`
	Document   coords.DocumentCoordinates `json:"pdfCoords"`
	Confidence float64                    `json:"matchConfidence"`
	IoU        float64                    `json:"iouScore"`

	// The template variant that produced the match.
	Angle          int `json:"matchedAngle"`
	TemplateWidth  int `json:"templateWidth"`
	TemplateHeight int `json:"templateHeight"`

	Status Status `json:"status"`
}

// Result is the outcome of one Detect call. The stage counts are carried for
// the coordinator's logging and warnings; only Candidates are persisted.
type Result struct {
	Candidates []Candidate

	RawMatches      int // threshold crossings before deduplication
	Deduplicated    int // candidates surviving non-maximum suppression
	SkippedVariants int // template variants that failed to build or match
}
