// Package store persists detection runs as a hierarchy of atomically
// replaced JSON records: run index -> run record -> per-symbol record with
// page-keyed detections.
package store

import (
	"errors"
	"time"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/detect"
)

var (
	// ErrRunNotFound marks a missing run id. Surfaced, never a crash.
	ErrRunNotFound = errors.New("detection run not found")

	// ErrDetectionNotFound marks a missing detection id on single-record
	// operations. Batch status updates skip unknown ids instead.
	ErrDetectionNotFound = errors.New("detection not found")
)

// RunStatus is the lifecycle state of a detection run.
type RunStatus string

const (
	RunInitializing RunStatus = "initializing"
	RunRunning      RunStatus = "running"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Action is a review operation applied to a detection.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionPending Action = "pending"
	ActionModify  Action = "modify"
)

// statusFor maps an action onto the resulting detection status.
func (a Action) statusFor() (detect.Status, bool) {
	switch a {
	case ActionAccept:
		return detect.StatusAccepted, true
	case ActionReject:
		return detect.StatusRejected, true
	case ActionPending:
		return detect.StatusPending, true
	case ActionModify:
		return detect.StatusModified, true
	}
	return "", false
}

// Detection is a persisted candidate with a stable id and audit trail.
type Detection struct {
	DetectionID string                     `json:"detectionId"`
	CandidateID int                        `json:"candidateId"`
	Raster      coords.RasterCoordinates   `json:"imageCoords"`
	Document    coords.DocumentCoordinates `json:"pdfCoords"`
	Confidence  float64                    `json:"matchConfidence"`
	IoU         float64                    `json:"iouScore"`
	Angle       int                        `json:"matchedAngle"`
	Status      detect.Status              `json:"status"`

	CreatedAt  time.Time  `json:"createdAt"`
	ReviewedAt *time.Time `json:"reviewedAt"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`

	UserModified bool `json:"isUserModified,omitempty"`
	UserAdded    bool `json:"isUserAdded,omitempty"`
}

// SymbolInfo is the catalog metadata for one symbol, carried into the run
// record so results are self-describing.
type SymbolInfo struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description,omitempty"`
	TemplatePath string                     `json:"relative_path"`
	LegendPage   int                        `json:"legend_page,omitempty"`
	LegendRegion coords.DocumentCoordinates `json:"legend_region,omitempty"`
}

// SymbolSummary aggregates one symbol's detections.
type SymbolSummary struct {
	TotalDetections     int `json:"totalDetections"`
	PagesWithDetections int `json:"pagesWithDetections"`

	AcceptedCount int `json:"acceptedCount"`
	RejectedCount int `json:"rejectedCount"`
	PendingCount  int `json:"pendingCount"`
	ModifiedCount int `json:"modifiedCount"`

	AvgConfidence float64 `json:"avgConfidence"`
	MinConfidence float64 `json:"minConfidence"`
	MaxConfidence float64 `json:"maxConfidence"`
	AvgIoU        float64 `json:"avgIou"`
	MinIoU        float64 `json:"minIou"`
	MaxIoU        float64 `json:"maxIou"`
}

// SymbolResult is the per-symbol record: page-keyed detections plus summary.
type SymbolResult struct {
	SymbolID         string              `json:"symbolId"`
	Info             SymbolInfo          `json:"symbolInfo"`
	DetectionsByPage map[int][]Detection `json:"detectionsByPage"`
	Summary          SymbolSummary       `json:"summary"`
	SavedAt          time.Time           `json:"savedAt"`
}

// RunParams is the parameter snapshot stored with a run.
type RunParams struct {
	Detection    detect.Params `json:"detection_params"`
	SymbolIDs    []string      `json:"symbol_ids"`
	TotalSymbols int           `json:"total_symbols"`
	TotalPages   int           `json:"total_pages"`
	DocID        string        `json:"doc_id"`
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	TotalSymbols          int     `json:"totalSymbols"`
	TotalPages            int     `json:"totalPages"`
	TotalDetections       int     `json:"totalDetections"`
	CompletedSymbols      int     `json:"completedSymbols"`
	SymbolsWithDetections int     `json:"symbolsWithDetections"`
	AvgConfidence         float64 `json:"avgConfidence"`
	AvgIoU                float64 `json:"avgIou"`

	AcceptedDetections int `json:"acceptedDetections"`
	RejectedDetections int `json:"rejectedDetections"`
	PendingDetections  int `json:"pendingDetections"`
	ModifiedDetections int `json:"modifiedDetections"`
}

// RunRecord is the run's durable metadata. Append-only while running;
// immutable after completion except for review edits to individual
// detections.
type RunRecord struct {
	RunID        string                   `json:"runId"`
	CreatedAt    time.Time                `json:"createdAt"`
	EndedAt      *time.Time               `json:"endTime,omitempty"`
	Status       RunStatus                `json:"status"`
	FinalMessage string                   `json:"finalMessage,omitempty"`
	Params       RunParams                `json:"params"`
	Summary      RunSummary               `json:"summary"`
	Symbols      map[string]SymbolSummary `json:"symbolResults"`
}

// LoadedRun is a run record joined with its full per-symbol results.
type LoadedRun struct {
	RunRecord
	SymbolDetections map[string]SymbolResult `json:"symbolDetections"`
}

// RunIndexEntry is the lightweight listing for one run.
type RunIndexEntry struct {
	RunID       string     `json:"runId"`
	CreatedAt   time.Time  `json:"createdAt"`
	Status      RunStatus  `json:"status"`
	Summary     RunSummary `json:"summary"`
	SymbolCount int        `json:"symbolCount"`
}

type runIndex struct {
	Version string          `json:"version"`
	Created time.Time       `json:"created"`
	Runs    []RunIndexEntry `json:"runs"`
}

// StatusUpdate is one entry in a batch review operation.
type StatusUpdate struct {
	DetectionID string                      `json:"detectionId"`
	Action      Action                      `json:"action"`
	NewCoords   *coords.DocumentCoordinates `json:"newCoords,omitempty"`
	ReviewedBy  string                      `json:"reviewedBy,omitempty"`
}
