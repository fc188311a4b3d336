package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/detect"
)

const (
	runDirPrefix    = "run_"
	symbolDirPrefix = "symbol_"
	indexVersion    = "1.0"
)

// Storage manages detection results for one document under
// <docDir>/symbols/detections.
type Storage struct {
	docDir        string
	detectionsDir string
	indexPath     string
	records       *lockRegistry
}

// NewStorage opens (creating if needed) the detection store for a document.
func NewStorage(docDir string) (*Storage, error) {
	s := &Storage{
		docDir:        docDir,
		detectionsDir: filepath.Join(docDir, "symbols", "detections"),
		records:       newLockRegistry(),
	}
	s.indexPath = filepath.Join(s.detectionsDir, "runs.json")

	if err := os.MkdirAll(s.detectionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create detections directory: %w", err)
	}
	if _, err := os.Stat(s.indexPath); errors.Is(err, fs.ErrNotExist) {
		idx := runIndex{Version: indexVersion, Created: time.Now().UTC(), Runs: []RunIndexEntry{}}
		if err := s.records.writeRecord(s.indexPath, idx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RunDir returns the directory holding one run's records. The progress
// ledger lives in the same directory.
func (s *Storage) RunDir(runID string) string {
	return filepath.Join(s.detectionsDir, runDirPrefix+runID)
}

func (s *Storage) runRecordPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run_metadata.json")
}

func (s *Storage) symbolRecordPath(runID, symbolID string) string {
	return filepath.Join(s.RunDir(runID), symbolDirPrefix+symbolID, "detections.json")
}

// CreateRun allocates a run namespace and writes the initial record with
// status initializing.
func (s *Storage) CreateRun(params RunParams) (string, error) {
	runID := uuid.NewString()
	if err := os.MkdirAll(s.RunDir(runID), 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	rec := RunRecord{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Status:    RunInitializing,
		Params:    params,
		Summary: RunSummary{
			TotalSymbols: params.TotalSymbols,
			TotalPages:   params.TotalPages,
		},
		Symbols: map[string]SymbolSummary{},
	}
	if err := s.records.writeRecord(s.runRecordPath(runID), rec); err != nil {
		return "", err
	}
	if err := s.updateIndex(rec); err != nil {
		return "", err
	}
	return runID, nil
}

// StartRun transitions a run from initializing to running.
func (s *Storage) StartRun(runID string) error {
	rec, err := s.loadRunRecord(runID)
	if err != nil {
		return err
	}
	rec.Status = RunRunning
	if err := s.records.writeRecord(s.runRecordPath(runID), rec); err != nil {
		return err
	}
	return s.updateIndex(*rec)
}

// SaveSymbolDetections assigns globally unique ids to a symbol's candidates,
// persists them with a computed summary, and folds the summary into the run
// record. Call once per symbol per run; it is not retry-idempotent.
func (s *Storage) SaveSymbolDetections(runID, symbolID string, info SymbolInfo, byPage map[int][]detect.Candidate) error {
	if _, err := os.Stat(s.RunDir(runID)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	now := time.Now().UTC()
	detections := make(map[int][]Detection, len(byPage))
	for page, candidates := range byPage {
		records := make([]Detection, 0, len(candidates))
		for _, c := range candidates {
			records = append(records, Detection{
				DetectionID: "det_" + uuid.NewString(),
				CandidateID: c.ID,
				Raster:      c.Raster,
				Document:    c.Document,
				Confidence:  c.Confidence,
				IoU:         c.IoU,
				Angle:       c.Angle,
				Status:      c.Status,
				CreatedAt:   now,
			})
		}
		detections[page] = records
	}

	result := SymbolResult{
		SymbolID:         symbolID,
		Info:             info,
		DetectionsByPage: detections,
		Summary:          summarize(detections),
		SavedAt:          now,
	}

	if err := os.MkdirAll(filepath.Dir(s.symbolRecordPath(runID, symbolID)), 0o755); err != nil {
		return fmt.Errorf("create symbol directory: %w", err)
	}
	if err := s.records.writeRecord(s.symbolRecordPath(runID, symbolID), result); err != nil {
		return err
	}

	rec, err := s.loadRunRecord(runID)
	if err != nil {
		return err
	}
	rec.Symbols[symbolID] = result.Summary
	rec.Summary.CompletedSymbols++
	foldSymbolSummaries(rec)
	if err := s.records.writeRecord(s.runRecordPath(runID), rec); err != nil {
		return err
	}
	return s.updateIndex(*rec)
}

// UpdateDetectionStatus applies a batch of review actions. Unknown detection
// ids and unknown actions are skipped per-update, not a whole-call failure.
// Summaries are recomputed from scratch afterwards.
func (s *Storage) UpdateDetectionStatus(runID string, updates []StatusUpdate) error {
	if _, err := os.Stat(s.RunDir(runID)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	bySymbol := map[string][]StatusUpdate{}
	for _, u := range updates {
		symbolID, ok, err := s.findSymbolForDetection(runID, u.DetectionID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		bySymbol[symbolID] = append(bySymbol[symbolID], u)
	}

	for symbolID, symbolUpdates := range bySymbol {
		if err := s.applySymbolUpdates(runID, symbolID, symbolUpdates); err != nil {
			return err
		}
	}
	return s.recomputeRunSummary(runID)
}

func (s *Storage) applySymbolUpdates(runID, symbolID string, updates []StatusUpdate) error {
	result, err := s.loadSymbolResult(runID, symbolID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, u := range updates {
		status, ok := u.Action.statusFor()
		if !ok {
			continue
		}
		d := findDetection(result, u.DetectionID)
		if d == nil {
			continue
		}
		d.Status = status
		if u.Action == ActionModify && u.NewCoords != nil {
			d.Document = *u.NewCoords
			// Keep the serialized raster form consistent with the new
			// document coordinates at the detection DPI.
			d.Raster = coords.DocumentToRasterAt(*u.NewCoords, coords.DetectionDPI)
			d.UserModified = true
		}
		reviewed := now
		d.ReviewedAt = &reviewed
		d.ReviewedBy = u.ReviewedBy
	}

	result.Summary = summarize(result.DetectionsByPage)
	return s.records.writeRecord(s.symbolRecordPath(runID, symbolID), result)
}

// UpdateDetectionCoordinates replaces one detection's document coordinates
// interactively, marking it user-modified.
func (s *Storage) UpdateDetectionCoordinates(runID, detectionID string, doc coords.DocumentCoordinates, reviewedBy string) error {
	symbolID, ok, err := s.findSymbolForDetection(runID, detectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDetectionNotFound, detectionID)
	}
	err = s.applySymbolUpdates(runID, symbolID, []StatusUpdate{{
		DetectionID: detectionID,
		Action:      ActionModify,
		NewCoords:   &doc,
		ReviewedBy:  reviewedBy,
	}})
	if err != nil {
		return err
	}
	return s.recomputeRunSummary(runID)
}

// AddUserDetection appends a manually drawn detection to a symbol's page.
// User additions count as accepted with full confidence.
func (s *Storage) AddUserDetection(runID, symbolID string, page int, doc coords.DocumentCoordinates, reviewedBy string) (Detection, error) {
	result, err := s.loadSymbolResult(runID, symbolID)
	if err != nil {
		return Detection{}, err
	}

	now := time.Now().UTC()
	d := Detection{
		DetectionID: "det_" + uuid.NewString(),
		CandidateID: -1,
		Raster:      coords.DocumentToRasterAt(doc, coords.DetectionDPI),
		Document:    doc,
		Confidence:  1.0,
		IoU:         1.0,
		Status:      detect.StatusAccepted,
		CreatedAt:   now,
		ReviewedAt:  &now,
		ReviewedBy:  reviewedBy,
		UserAdded:   true,
	}
	if result.DetectionsByPage == nil {
		result.DetectionsByPage = map[int][]Detection{}
	}
	result.DetectionsByPage[page] = append(result.DetectionsByPage[page], d)
	result.Summary = summarize(result.DetectionsByPage)

	if err := s.records.writeRecord(s.symbolRecordPath(runID, symbolID), result); err != nil {
		return Detection{}, err
	}
	return d, s.recomputeRunSummary(runID)
}

// DeleteDetection removes one detection and recomputes summaries.
func (s *Storage) DeleteDetection(runID, detectionID string) error {
	symbolID, ok, err := s.findSymbolForDetection(runID, detectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDetectionNotFound, detectionID)
	}

	result, err := s.loadSymbolResult(runID, symbolID)
	if err != nil {
		return err
	}
	for page, list := range result.DetectionsByPage {
		for i, d := range list {
			if d.DetectionID == detectionID {
				result.DetectionsByPage[page] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
	result.Summary = summarize(result.DetectionsByPage)
	if err := s.records.writeRecord(s.symbolRecordPath(runID, symbolID), result); err != nil {
		return err
	}
	return s.recomputeRunSummary(runID)
}

// LoadRun returns the run record joined with all symbol results.
func (s *Storage) LoadRun(runID string) (*LoadedRun, error) {
	rec, err := s.loadRunRecord(runID)
	if err != nil {
		return nil, err
	}

	loaded := &LoadedRun{RunRecord: *rec, SymbolDetections: map[string]SymbolResult{}}
	symbolIDs, err := s.symbolIDs(runID)
	if err != nil {
		return nil, err
	}
	for _, symbolID := range symbolIDs {
		result, err := s.loadSymbolResult(runID, symbolID)
		if err != nil {
			return nil, err
		}
		loaded.SymbolDetections[symbolID] = *result
	}
	return loaded, nil
}

// ListRuns returns the run index, newest first.
func (s *Storage) ListRuns() ([]RunIndexEntry, error) {
	var idx runIndex
	if err := s.records.readRecord(s.indexPath, &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return idx.Runs, nil
}

// DeleteRun removes a run and all of its records. Returns false when the
// run does not exist. An unreadable index is an error: the run directory is
// already gone at that point, so a stale entry must not be silently kept.
func (s *Storage) DeleteRun(runID string) (bool, error) {
	if _, err := os.Stat(s.RunDir(runID)); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(s.RunDir(runID)); err != nil {
		return false, fmt.Errorf("remove run directory: %w", err)
	}

	var idx runIndex
	if err := s.records.readRecord(s.indexPath, &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return true, fmt.Errorf("remove run from index: %w", err)
	}
	kept := idx.Runs[:0]
	for _, e := range idx.Runs {
		if e.RunID != runID {
			kept = append(kept, e)
		}
	}
	idx.Runs = kept
	return true, s.records.writeRecord(s.indexPath, idx)
}

// CompleteRun finalizes a run. Aggregate statistics are recomputed once from
// all persisted symbol results rather than trusting incremental counters.
func (s *Storage) CompleteRun(runID string, success bool, finalMessage string) error {
	if err := s.recomputeRunSummary(runID); err != nil {
		return err
	}
	rec, err := s.loadRunRecord(runID)
	if err != nil {
		return err
	}

	ended := time.Now().UTC()
	rec.EndedAt = &ended
	if success {
		rec.Status = RunCompleted
		if finalMessage == "" {
			finalMessage = fmt.Sprintf("Detection completed: %d detections", rec.Summary.TotalDetections)
		}
	} else {
		rec.Status = RunFailed
		if finalMessage == "" {
			finalMessage = "Detection failed"
		}
	}
	rec.FinalMessage = finalMessage

	if err := s.records.writeRecord(s.runRecordPath(runID), rec); err != nil {
		return err
	}
	return s.updateIndex(*rec)
}

func (s *Storage) loadRunRecord(runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.records.readRecord(s.runRecordPath(runID), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	if rec.Symbols == nil {
		rec.Symbols = map[string]SymbolSummary{}
	}
	return &rec, nil
}

func (s *Storage) loadSymbolResult(runID, symbolID string) (*SymbolResult, error) {
	var result SymbolResult
	if err := s.records.readRecord(s.symbolRecordPath(runID, symbolID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// symbolIDs lists the symbols persisted under a run, in directory order.
func (s *Storage) symbolIDs(runID string) ([]string, error) {
	entries, err := os.ReadDir(s.RunDir(runID))
	if err != nil {
		return nil, fmt.Errorf("scan run directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), symbolDirPrefix) {
			ids = append(ids, strings.TrimPrefix(e.Name(), symbolDirPrefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Storage) findSymbolForDetection(runID, detectionID string) (string, bool, error) {
	symbolIDs, err := s.symbolIDs(runID)
	if err != nil {
		return "", false, err
	}
	for _, symbolID := range symbolIDs {
		result, err := s.loadSymbolResult(runID, symbolID)
		if err != nil {
			return "", false, err
		}
		if findDetection(result, detectionID) != nil {
			return symbolID, true, nil
		}
	}
	return "", false, nil
}

func findDetection(result *SymbolResult, detectionID string) *Detection {
	for page := range result.DetectionsByPage {
		list := result.DetectionsByPage[page]
		for i := range list {
			if list[i].DetectionID == detectionID {
				return &list[i]
			}
		}
	}
	return nil
}

// recomputeRunSummary rebuilds the run's aggregates by re-scanning every
// persisted symbol result. Full recomputation, never incremental adjustment,
// so arbitrary edit sequences cannot drift the summary.
func (s *Storage) recomputeRunSummary(runID string) error {
	rec, err := s.loadRunRecord(runID)
	if err != nil {
		return err
	}

	symbolIDs, err := s.symbolIDs(runID)
	if err != nil {
		return err
	}

	rec.Symbols = map[string]SymbolSummary{}
	for _, symbolID := range symbolIDs {
		result, err := s.loadSymbolResult(runID, symbolID)
		if err != nil {
			return err
		}
		result.Summary = summarize(result.DetectionsByPage)
		rec.Symbols[symbolID] = result.Summary
	}
	rec.Summary.CompletedSymbols = len(rec.Symbols)
	foldSymbolSummaries(rec)

	if err := s.records.writeRecord(s.runRecordPath(runID), rec); err != nil {
		return err
	}
	return s.updateIndex(*rec)
}

// foldSymbolSummaries recomputes the run summary from the per-symbol
// summaries, weighting averages by detection count.
func foldSymbolSummaries(rec *RunRecord) {
	sum := &rec.Summary
	sum.TotalDetections = 0
	sum.SymbolsWithDetections = 0
	sum.AcceptedDetections = 0
	sum.RejectedDetections = 0
	sum.PendingDetections = 0
	sum.ModifiedDetections = 0

	var confidences, ious []float64
	var weights []float64
	for _, symbol := range rec.Symbols {
		sum.TotalDetections += symbol.TotalDetections
		sum.AcceptedDetections += symbol.AcceptedCount
		sum.RejectedDetections += symbol.RejectedCount
		sum.PendingDetections += symbol.PendingCount
		sum.ModifiedDetections += symbol.ModifiedCount
		if symbol.TotalDetections > 0 {
			sum.SymbolsWithDetections++
			confidences = append(confidences, symbol.AvgConfidence)
			ious = append(ious, symbol.AvgIoU)
			weights = append(weights, float64(symbol.TotalDetections))
		}
	}
	if len(confidences) > 0 {
		sum.AvgConfidence = stat.Mean(confidences, weights)
		sum.AvgIoU = stat.Mean(ious, weights)
	} else {
		sum.AvgConfidence = 0
		sum.AvgIoU = 0
	}
}

// summarize computes a symbol summary from its detections.
func summarize(byPage map[int][]Detection) SymbolSummary {
	var s SymbolSummary
	var confidences, ious []float64

	for _, list := range byPage {
		if len(list) > 0 {
			s.PagesWithDetections++
		}
		for _, d := range list {
			s.TotalDetections++
			switch d.Status {
			case detect.StatusAccepted:
				s.AcceptedCount++
			case detect.StatusRejected:
				s.RejectedCount++
			case detect.StatusModified:
				s.ModifiedCount++
			default:
				s.PendingCount++
			}
			confidences = append(confidences, d.Confidence)
			ious = append(ious, d.IoU)
		}
	}

	if len(confidences) > 0 {
		s.AvgConfidence = stat.Mean(confidences, nil)
		s.MinConfidence = floats.Min(confidences)
		s.MaxConfidence = floats.Max(confidences)
		s.AvgIoU = stat.Mean(ious, nil)
		s.MinIoU = floats.Min(ious)
		s.MaxIoU = floats.Max(ious)
	}
	return s
}

// updateIndex replaces the run's entry in the index and keeps the listing
// sorted newest first.
func (s *Storage) updateIndex(rec RunRecord) error {
	var idx runIndex
	if err := s.records.readRecord(s.indexPath, &idx); err != nil {
		idx = runIndex{Version: indexVersion, Created: time.Now().UTC()}
	}

	kept := idx.Runs[:0]
	for _, e := range idx.Runs {
		if e.RunID != rec.RunID {
			kept = append(kept, e)
		}
	}
	idx.Runs = append(kept, RunIndexEntry{
		RunID:       rec.RunID,
		CreatedAt:   rec.CreatedAt,
		Status:      rec.Status,
		Summary:     rec.Summary,
		SymbolCount: len(rec.Params.SymbolIDs),
	})
	sort.Slice(idx.Runs, func(i, j int) bool {
		return idx.Runs[i].CreatedAt.After(idx.Runs[j].CreatedAt)
	})
	return s.records.writeRecord(s.indexPath, idx)
}
