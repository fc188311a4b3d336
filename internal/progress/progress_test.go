package progress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbol-detect/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	tr, err := NewTracker("run-1", dir)
	require.NoError(t, err)
	return tr, dir + "/" + LedgerFileName
}

func TestNewTrackerPersistsInitialLedger(t *testing.T) {
	tr, path := newTestTracker(t)

	l, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", l.RunID)
	assert.Equal(t, store.RunInitializing, l.Status)
	assert.Equal(t, 0, l.TotalSteps)
	assert.False(t, l.StartTime.IsZero())

	snap := tr.Snapshot()
	assert.Equal(t, l.RunID, snap.RunID)
}

func TestStartDetectionInitializesTracking(t *testing.T) {
	tr, path := newTestTracker(t)
	tr.StartDetection(2, 3, []string{"valve", "damper"})

	l, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, l.Status)
	assert.Equal(t, 6, l.TotalSteps)
	require.Contains(t, l.SymbolProgress, "valve")
	assert.Equal(t, SymbolPending, l.SymbolProgress["valve"].Status)
	require.Contains(t, l.PageProgress, 2)
	assert.Equal(t, SymbolPending, l.PageProgress[2].Status)
}

func TestEveryMutationIsPersisted(t *testing.T) {
	tr, path := newTestTracker(t)
	tr.StartDetection(1, 2, []string{"valve"})
	tr.StartSymbolProcessing("valve", 0, 1)
	tr.UpdatePageProgress(1, 4, 2)

	l, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Equal(t, "valve", l.CurrentSymbol)
	assert.Equal(t, 1, l.CurrentPage)
	assert.Equal(t, 4, l.SymbolProgress["valve"].TotalDetections)
	assert.Equal(t, 1, l.SymbolProgress["valve"].CompletedPages)
	assert.Equal(t, SymbolProcessing, l.SymbolProgress["valve"].Status)
}

func TestProgressPercentAndETA(t *testing.T) {
	tr, _ := newTestTracker(t)
	base := time.Now().UTC()
	tr.now = func() time.Time { return base }
	tr.ledger.StartTime = base
	tr.StartDetection(2, 2, []string{"a", "b"})

	// Zero completed steps: no rate yet.
	s := tr.Summary()
	assert.Equal(t, 0.0, s.ProgressPercent)

	tr.now = func() time.Time { return base.Add(10 * time.Second) }
	tr.CompleteStep()

	s = tr.Summary()
	assert.Equal(t, 25.0, s.ProgressPercent)
	assert.InDelta(t, 0.1, s.ProcessingRate, 1e-9)
	// 3 steps remaining at 0.1 steps/s = 30s.
	assert.Equal(t, "30s", s.EstimatedTimeRemaining)
}

func TestETACalculatingBeforeFirstStep(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.StartDetection(1, 5, []string{"a"})

	// Recalc with zero completed steps must report a placeholder, not a
	// division-by-zero artifact.
	tr.mu.Lock()
	tr.recalcLocked()
	tr.mu.Unlock()
	assert.Equal(t, "Calculating...", tr.Summary().EstimatedTimeRemaining)
}

func TestErrorRotationCap(t *testing.T) {
	tr, path := newTestTracker(t)
	for i := 0; i < maxLogEntries+20; i++ {
		tr.AddError(fmt.Sprintf("error %d", i), nil)
	}

	l, err := LoadLedger(path)
	require.NoError(t, err)
	require.Len(t, l.Errors, maxLogEntries)
	// Oldest entries rotated out, newest kept.
	assert.Equal(t, fmt.Sprintf("error %d", maxLogEntries+19), l.Errors[len(l.Errors)-1].Message)
	assert.Equal(t, "error 20", l.Errors[0].Message)
}

func TestCompleteDetectionSuccess(t *testing.T) {
	tr, path := newTestTracker(t)
	tr.StartDetection(1, 1, []string{"valve"})
	tr.StartSymbolProcessing("valve", 0, 1)
	tr.UpdatePageProgress(1, 7, 1)
	tr.CompleteStep()
	tr.CompleteSymbolProcessing("valve", 7)
	tr.CompleteDetection(true, "")

	l, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, l.Status)
	assert.Equal(t, 100.0, l.ProgressPercent)
	assert.Empty(t, l.CurrentSymbol)
	require.NotNil(t, l.EndTime)
	require.NotNil(t, l.Final)
	assert.Equal(t, 7, l.Final.TotalDetections)
	assert.Equal(t, 1, l.Final.SymbolsProcessed)
	assert.Equal(t, 1, l.Final.PagesProcessed)
	assert.Contains(t, l.CurrentStep, "7 total detections")
}

func TestCompleteDetectionFailureKeepsPercent(t *testing.T) {
	tr, path := newTestTracker(t)
	tr.StartDetection(1, 4, []string{"valve"})
	tr.CompleteStep()
	tr.AddError("page 2 render failed", map[string]any{"page": 2})
	tr.CompleteDetection(false, "")

	l, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, l.Status)
	assert.Equal(t, 25.0, l.ProgressPercent)
	assert.Equal(t, 1, l.Final.ErrorCount)
	assert.Contains(t, l.CurrentStep, "failed")
}

func TestFailSymbolDoesNotEndRun(t *testing.T) {
	tr, path := newTestTracker(t)
	tr.StartDetection(2, 1, []string{"valve", "damper"})
	tr.StartSymbolProcessing("valve", 0, 2)
	tr.FailSymbol("valve")

	l, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, l.Status)
	assert.Equal(t, SymbolFailed, l.SymbolProgress["valve"].Status)
	require.NotNil(t, l.SymbolProgress["valve"].EndedAt)
}

func TestSnapshotIsIsolated(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.StartDetection(1, 1, []string{"valve"})

	snap := tr.Snapshot()
	snap.SymbolProgress["valve"].TotalDetections = 999

	assert.Equal(t, 0, tr.Snapshot().SymbolProgress["valve"].TotalDetections)
}

func TestWaitForCompletion(t *testing.T) {
	tr, path := newTestTracker(t)
	tr.StartDetection(1, 1, []string{"valve"})

	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.CompleteStep()
		tr.CompleteDetection(true, "")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var updates int
	final, err := WaitForCompletion(ctx, path, func(Ledger) { updates++ })
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, final.Status)
	assert.Greater(t, updates, 0)
}

func TestWaitForCompletionCancellation(t *testing.T) {
	_, path := newTestTracker(t) // ledger exists but never completes

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := WaitForCompletion(ctx, path, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
