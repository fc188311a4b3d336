// Package progress maintains the real-time ledger for a detection run: a
// single JSON file rewritten atomically after every mutation so external
// observers can poll or watch it without coordination.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"symbol-detect/internal/store"
)

// LedgerFileName is the ledger's name inside a run directory.
const LedgerFileName = "progress.json"

// maxLogEntries bounds the error and warning lists; older entries rotate out.
const maxLogEntries = 50

// SymbolState is the per-symbol processing state within a run.
type SymbolState string

const (
	SymbolPending    SymbolState = "pending"
	SymbolProcessing SymbolState = "processing"
	SymbolCompleted  SymbolState = "completed"
	SymbolFailed     SymbolState = "failed"
)

// SymbolProgress tracks one symbol's pass over the document.
type SymbolProgress struct {
	Status          SymbolState `json:"status"`
	CompletedPages  int         `json:"completedPages"`
	TotalDetections int         `json:"totalDetections"`
	StartedAt       *time.Time  `json:"startTime"`
	EndedAt         *time.Time  `json:"endTime"`
}

// PageProgress tracks how many symbols have finished scanning one page.
type PageProgress struct {
	CompletedSymbols int         `json:"completedSymbols"`
	TotalDetections  int         `json:"totalDetections"`
	Status           SymbolState `json:"status"`
}

// LogEntry is one rotating error or warning record.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// FinalStatistics is computed once when the run ends.
type FinalStatistics struct {
	TotalDurationSeconds  float64 `json:"totalDurationSeconds"`
	TotalDuration         string  `json:"totalDurationFormatted"`
	AverageProcessingRate float64 `json:"averageProcessingRate"`
	TotalDetections       int     `json:"totalDetections"`
	SymbolsProcessed      int     `json:"symbolsProcessed"`
	PagesProcessed        int     `json:"pagesProcessed"`
	ErrorCount            int     `json:"errorCount"`
	WarningCount          int     `json:"warningCount"`
}

// Ledger is the persisted progress record. One step is one (symbol, page)
// scan, so totalSteps = symbols x pages.
type Ledger struct {
	RunID     string          `json:"runId"`
	Status    store.RunStatus `json:"status"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime"`

	CurrentStep     string  `json:"currentStep"`
	TotalSteps      int     `json:"totalSteps"`
	CompletedSteps  int     `json:"completedSteps"`
	ProgressPercent float64 `json:"progressPercent"`

	CurrentSymbol string `json:"currentSymbol,omitempty"`
	CurrentPage   int    `json:"currentPage,omitempty"`

	EstimatedTimeRemaining string  `json:"estimatedTimeRemaining,omitempty"`
	ProcessingRate         float64 `json:"processingRate"` // steps per second

	TotalSymbols int      `json:"totalSymbols"`
	TotalPages   int      `json:"totalPages"`
	SymbolNames  []string `json:"symbolNames,omitempty"`

	SymbolProgress map[string]*SymbolProgress `json:"symbolProgress"`
	PageProgress   map[int]*PageProgress      `json:"pageProgress"`

	Errors   []LogEntry `json:"errors"`
	Warnings []LogEntry `json:"warnings"`

	Final *FinalStatistics `json:"finalStatistics,omitempty"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// Summary is the lightweight view for quick status checks.
type Summary struct {
	RunID                  string          `json:"runId"`
	Status                 store.RunStatus `json:"status"`
	ProgressPercent        float64         `json:"progressPercent"`
	CurrentStep            string          `json:"currentStep"`
	EstimatedTimeRemaining string          `json:"estimatedTimeRemaining,omitempty"`
	ProcessingRate         float64         `json:"processingRate"`
	CompletedSteps         int             `json:"completedSteps"`
	TotalSteps             int             `json:"totalSteps"`
	ErrorCount             int             `json:"errorCount"`
	WarningCount           int             `json:"warningCount"`
	LastUpdated            time.Time       `json:"lastUpdated"`
}

// Tracker owns a run's ledger. All methods are safe for concurrent use; every
// mutation is persisted before the method returns, so the on-disk ledger
// never lags the in-memory state by more than one atomic replace.
type Tracker struct {
	mu     sync.Mutex
	path   string
	ledger Ledger

	now func() time.Time
}

// NewTracker initializes a ledger in runDir and persists its initial state.
func NewTracker(runID, runDir string) (*Tracker, error) {
	t := &Tracker{
		path: filepath.Join(runDir, LedgerFileName),
		now:  time.Now,
	}
	started := t.now().UTC()
	t.ledger = Ledger{
		RunID:          runID,
		Status:         store.RunInitializing,
		StartTime:      started,
		CurrentStep:    "Initializing detection process...",
		SymbolProgress: map[string]*SymbolProgress{},
		PageProgress:   map[int]*PageProgress{},
		Errors:         []LogEntry{},
		Warnings:       []LogEntry{},
		LastUpdated:    started,
	}
	if err := t.persistLocked(); err != nil {
		return nil, err
	}
	return t, nil
}

// StartDetection records the run dimensions and moves the ledger to running.
func (t *Tracker) StartDetection(totalSymbols, totalPages int, symbolNames []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger.Status = store.RunRunning
	t.ledger.TotalSymbols = totalSymbols
	t.ledger.TotalPages = totalPages
	t.ledger.TotalSteps = totalSymbols * totalPages
	t.ledger.SymbolNames = symbolNames
	t.ledger.CurrentStep = fmt.Sprintf("Starting detection for %d symbols across %d pages...", totalSymbols, totalPages)

	for _, name := range symbolNames {
		t.ledger.SymbolProgress[name] = &SymbolProgress{Status: SymbolPending}
	}
	for page := 1; page <= totalPages; page++ {
		t.ledger.PageProgress[page] = &PageProgress{Status: SymbolPending}
	}
	t.touchAndPersistLocked()
}

// StartSymbolProcessing marks a symbol as the one currently scanning.
func (t *Tracker) StartSymbolProcessing(name string, index, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger.CurrentSymbol = name
	t.ledger.CurrentPage = 0
	t.ledger.CurrentStep = fmt.Sprintf("Processing symbol %d/%d: %s", index+1, total, name)

	if sp, ok := t.ledger.SymbolProgress[name]; ok {
		started := t.now().UTC()
		sp.Status = SymbolProcessing
		sp.StartedAt = &started
	}
	t.touchAndPersistLocked()
}

// UpdatePageProgress records one finished page for the current symbol.
func (t *Tracker) UpdatePageProgress(page, detectionsFound, totalPages int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger.CurrentPage = page
	t.ledger.CurrentStep = fmt.Sprintf("Page %d/%d - Found %d detections", page, totalPages, detectionsFound)

	if pp, ok := t.ledger.PageProgress[page]; ok {
		pp.CompletedSymbols++
		pp.TotalDetections += detectionsFound
		if pp.CompletedSymbols >= t.ledger.TotalSymbols {
			pp.Status = SymbolCompleted
		}
	}
	if sp, ok := t.ledger.SymbolProgress[t.ledger.CurrentSymbol]; ok {
		sp.CompletedPages++
		sp.TotalDetections += detectionsFound
	}
	t.touchAndPersistLocked()
}

// CompleteStep advances the step counter and refreshes the rate and ETA.
func (t *Tracker) CompleteStep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger.CompletedSteps++
	t.touchAndPersistLocked()
}

// CompleteSymbolProcessing marks a symbol finished with its detection total.
func (t *Tracker) CompleteSymbolProcessing(name string, totalDetections int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sp, ok := t.ledger.SymbolProgress[name]; ok {
		ended := t.now().UTC()
		sp.Status = SymbolCompleted
		sp.EndedAt = &ended
		sp.TotalDetections = totalDetections
	}
	t.ledger.CurrentStep = fmt.Sprintf("Completed %s - %d detections found", name, totalDetections)
	t.touchAndPersistLocked()
}

// FailSymbol marks a symbol failed without ending the run. Page scans for
// other symbols continue.
func (t *Tracker) FailSymbol(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sp, ok := t.ledger.SymbolProgress[name]; ok {
		ended := t.now().UTC()
		sp.Status = SymbolFailed
		sp.EndedAt = &ended
	}
	t.touchAndPersistLocked()
}

// AddError appends a rotating error entry.
func (t *Tracker) AddError(message string, context map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger.Errors = appendRotating(t.ledger.Errors, t.entry("error", message, context))
	t.touchAndPersistLocked()
}

// AddWarning appends a rotating warning entry.
func (t *Tracker) AddWarning(message string, context map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger.Warnings = appendRotating(t.ledger.Warnings, t.entry("warning", message, context))
	t.touchAndPersistLocked()
}

// CompleteDetection finalizes the ledger and computes final statistics.
func (t *Tracker) CompleteDetection(success bool, finalMessage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ended := t.now().UTC()
	t.ledger.EndTime = &ended
	if success {
		t.ledger.Status = store.RunCompleted
		t.ledger.ProgressPercent = 100.0
		if finalMessage == "" {
			finalMessage = fmt.Sprintf("Detection completed successfully - %d total detections found", t.totalDetectionsLocked())
		}
	} else {
		t.ledger.Status = store.RunFailed
		if finalMessage == "" {
			finalMessage = "Detection failed - see errors for details"
		}
	}
	t.ledger.CurrentStep = finalMessage
	t.ledger.CurrentSymbol = ""
	t.ledger.CurrentPage = 0
	t.ledger.EstimatedTimeRemaining = ""

	t.finalStatisticsLocked(ended)
	t.touchAndPersistLocked()
}

// Snapshot returns a deep copy of the ledger.
func (t *Tracker) Snapshot() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyLedger(t.ledger)
}

// Summary returns the lightweight progress view.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return summaryOf(t.ledger)
}

func summaryOf(l Ledger) Summary {
	return Summary{
		RunID:                  l.RunID,
		Status:                 l.Status,
		ProgressPercent:        l.ProgressPercent,
		CurrentStep:            l.CurrentStep,
		EstimatedTimeRemaining: l.EstimatedTimeRemaining,
		ProcessingRate:         l.ProcessingRate,
		CompletedSteps:         l.CompletedSteps,
		TotalSteps:             l.TotalSteps,
		ErrorCount:             len(l.Errors),
		WarningCount:           len(l.Warnings),
		LastUpdated:            l.LastUpdated,
	}
}

func (t *Tracker) entry(level, message string, context map[string]any) LogEntry {
	return LogEntry{Timestamp: t.now().UTC(), Level: level, Message: message, Context: context}
}

func appendRotating(entries []LogEntry, e LogEntry) []LogEntry {
	entries = append(entries, e)
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}
	return entries
}

// recalcLocked refreshes percent, processing rate, and ETA. Before the first
// completed step there is no rate to extrapolate from, so the ETA reads
// "Calculating...".
func (t *Tracker) recalcLocked() {
	if t.ledger.TotalSteps <= 0 {
		return
	}
	percent := float64(t.ledger.CompletedSteps) / float64(t.ledger.TotalSteps) * 100
	t.ledger.ProgressPercent = math.Round(percent*100) / 100

	if t.ledger.CompletedSteps < 1 {
		t.ledger.EstimatedTimeRemaining = "Calculating..."
		return
	}
	elapsed := t.now().UTC().Sub(t.ledger.StartTime).Seconds()
	if elapsed <= 0 {
		t.ledger.EstimatedTimeRemaining = "Calculating..."
		return
	}
	rate := float64(t.ledger.CompletedSteps) / elapsed
	t.ledger.ProcessingRate = math.Round(rate*10000) / 10000
	remaining := float64(t.ledger.TotalSteps-t.ledger.CompletedSteps) / rate
	t.ledger.EstimatedTimeRemaining = formatDuration(remaining)
}

func (t *Tracker) totalDetectionsLocked() int {
	total := 0
	for _, sp := range t.ledger.SymbolProgress {
		total += sp.TotalDetections
	}
	return total
}

func (t *Tracker) finalStatisticsLocked(ended time.Time) {
	duration := ended.Sub(t.ledger.StartTime).Seconds()
	stats := &FinalStatistics{
		TotalDurationSeconds: duration,
		TotalDuration:        formatDuration(duration),
		TotalDetections:      t.totalDetectionsLocked(),
		ErrorCount:           len(t.ledger.Errors),
		WarningCount:         len(t.ledger.Warnings),
	}
	if duration > 0 {
		stats.AverageProcessingRate = math.Round(float64(t.ledger.CompletedSteps)/duration*10000) / 10000
	}
	for _, sp := range t.ledger.SymbolProgress {
		if sp.Status == SymbolCompleted {
			stats.SymbolsProcessed++
		}
	}
	for _, pp := range t.ledger.PageProgress {
		if pp.Status == SymbolCompleted {
			stats.PagesProcessed++
		}
	}
	t.ledger.Final = stats
}

// formatDuration renders a duration in the coarse human form the ledger
// uses: "42s", "3m 10s", "1h 5m".
func formatDuration(seconds float64) string {
	s := int(seconds)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}

func (t *Tracker) touchAndPersistLocked() {
	// Percent, rate, and ETA are refreshed on every mutation while running
	// so pollers never read stale derived fields.
	if t.ledger.Status == store.RunRunning {
		t.recalcLocked()
	}
	t.ledger.LastUpdated = t.now().UTC()
	if err := t.persistLocked(); err != nil {
		// Progress is advisory. Losing one write must not fail the run.
		slog.Warn("failed to persist progress ledger", "path", t.path, "error", err)
	}
}

// persistLocked writes the ledger via temp file and atomic rename so readers
// never see a torn record.
func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(t.ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress ledger: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress temp file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace progress ledger: %w", err)
	}
	return nil
}

func copyLedger(l Ledger) Ledger {
	out := l
	out.SymbolProgress = make(map[string]*SymbolProgress, len(l.SymbolProgress))
	for name, sp := range l.SymbolProgress {
		c := *sp
		out.SymbolProgress[name] = &c
	}
	out.PageProgress = make(map[int]*PageProgress, len(l.PageProgress))
	for page, pp := range l.PageProgress {
		c := *pp
		out.PageProgress[page] = &c
	}
	out.Errors = append([]LogEntry(nil), l.Errors...)
	out.Warnings = append([]LogEntry(nil), l.Warnings...)
	if l.Final != nil {
		f := *l.Final
		out.Final = &f
	}
	out.SymbolNames = append([]string(nil), l.SymbolNames...)
	return out
}
