package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/detect"
	"symbol-detect/internal/progress"
	"symbol-detect/internal/raster"
	"symbol-detect/internal/store"
)

// writeTestDocument lays out a document directory with page metadata and a
// symbol catalog.
func writeTestDocument(t *testing.T, pages int, symbolIDs ...string) string {
	t.Helper()
	docDir := t.TempDir()

	pageMap := map[string]coords.PageGeometry{}
	for n := 1; n <= pages; n++ {
		pageMap[strconv.Itoa(n)] = coords.PageGeometry{
			PageNumber:    n,
			WidthPoints:   612,
			HeightPoints:  792,
			RasterWidth:   1275,
			RasterHeight:  1650,
			RasterDPI:     150,
			HighResWidth:  2550,
			HighResHeight: 3300,
			HighResDPI:    300,
		}
	}
	writeJSON(t, filepath.Join(docDir, "page_metadata.json"), map[string]any{"pages": pageMap})

	var symbols []store.SymbolInfo
	for _, id := range symbolIDs {
		symbols = append(symbols, store.SymbolInfo{
			ID:           id,
			Name:         "Symbol " + id,
			TemplatePath: filepath.Join("symbols", "templates", id+".png"),
		})
	}
	require.NoError(t, os.MkdirAll(filepath.Join(docDir, "symbols"), 0o755))
	writeJSON(t, filepath.Join(docDir, "symbols", "symbols_metadata.json"), map[string]any{"symbols": symbols})
	return docDir
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// fakeRenderer serves blank pages and records lifecycle calls.
type fakeRenderer struct {
	renders  int
	closed   bool
	failPage int
}

func (r *fakeRenderer) RenderPage(ctx context.Context, pageNumber, dpi int) (image.Image, error) {
	if pageNumber == r.failPage {
		return nil, fmt.Errorf("render failure injected for page %d", pageNumber)
	}
	r.renders++
	return image.NewGray(image.Rect(0, 0, 2550, 3300)), nil
}

func (r *fakeRenderer) Close() error {
	r.closed = true
	return nil
}

// fakeDetector returns canned candidates per (symbol id, page).
type fakeDetector struct {
	candidates map[string]map[int][]detect.Candidate // symbol id -> page -> hits
	failOpen   map[string]bool
	pageErr    map[int]error
	opened     []string
	block      chan struct{} // when set, DetectPage waits until closed
}

func (d *fakeDetector) OpenTemplate(path string) (Template, error) {
	id := symbolIDFromTemplatePath(path)
	d.opened = append(d.opened, id)
	if d.failOpen[id] {
		return nil, errors.New("template decode failed")
	}
	return &fakeTemplate{detector: d, symbolID: id}, nil
}

func symbolIDFromTemplatePath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

type fakeTemplate struct {
	detector *fakeDetector
	symbolID string
	closed   bool
}

func (t *fakeTemplate) Size() (int, int) { return 94, 94 }

func (t *fakeTemplate) DetectPage(ctx context.Context, page image.Image, geom coords.PageGeometry, p detect.Params) ([]detect.Candidate, error) {
	if t.detector.block != nil {
		<-t.detector.block
	}
	if err, ok := t.detector.pageErr[geom.PageNumber]; ok {
		return nil, err
	}
	return t.detector.candidates[t.symbolID][geom.PageNumber], nil
}

func (t *fakeTemplate) Close() error {
	t.closed = true
	return nil
}

func candidateAt(left, top int, confidence float64) detect.Candidate {
	raster := coords.RasterCoordinates{Left: left, Top: top, Width: 94, Height: 94, DPI: coords.DetectionDPI}
	return detect.Candidate{
		Raster:     raster,
		Document:   coords.NewTransformer(coords.PageGeometry{}).RasterToDocument(raster),
		Confidence: confidence,
		IoU:        0.8,
		Status:     detect.StatusPending,
	}
}

func newTestCoordinator(detector Detector, renderer raster.PageRenderer) *Coordinator {
	c := New(detector, nil)
	c.newRenderer = func(string, int) (raster.PageRenderer, error) { return renderer, nil }
	return c
}

func TestRunCompletesAndPersists(t *testing.T) {
	docDir := writeTestDocument(t, 2, "valve", "damper")
	detector := &fakeDetector{
		candidates: map[string]map[int][]detect.Candidate{
			"valve": {1: {candidateAt(100, 100, 0.9), candidateAt(500, 500, 0.7)}},
		},
	}
	renderer := &fakeRenderer{}
	c := newTestCoordinator(detector, renderer)

	runID, err := c.Run(context.Background(), docDir, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.True(t, renderer.closed)
	assert.Equal(t, []string{"valve", "damper"}, detector.opened)

	storage, err := store.NewStorage(docDir)
	require.NoError(t, err)
	loaded, err := storage.LoadRun(runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, loaded.Status)
	assert.Equal(t, 2, loaded.Summary.TotalDetections)
	assert.Equal(t, 2, loaded.Summary.CompletedSymbols)
	assert.Len(t, loaded.SymbolDetections["valve"].DetectionsByPage[1], 2)
	assert.Empty(t, loaded.SymbolDetections["damper"].DetectionsByPage)

	ledger, err := progress.LoadLedger(filepath.Join(storage.RunDir(runID), progress.LedgerFileName))
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, ledger.Status)
	assert.Equal(t, 100.0, ledger.ProgressPercent)
	assert.Equal(t, 4, ledger.CompletedSteps) // 2 symbols x 2 pages
	assert.Equal(t, 2, ledger.Final.TotalDetections)

	// Pages rendered once, shared across both symbols.
	assert.Equal(t, 2, renderer.renders)
}

func TestRunRefusesConcurrentRunsOnSameDocument(t *testing.T) {
	docDir := writeTestDocument(t, 1, "valve")
	block := make(chan struct{})
	detector := &fakeDetector{block: block}
	c := newTestCoordinator(detector, &fakeRenderer{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), docDir, Options{})
		done <- err
	}()

	// Wait until the first run is registered as active.
	require.Eventually(t, func() bool {
		_, ok := c.ActiveRun(docDir)
		return ok
	}, 5*time.Second, time.Millisecond)

	_, err := c.Run(context.Background(), docDir, Options{})
	assert.ErrorIs(t, err, ErrRunActive)

	close(block)
	require.NoError(t, <-done)

	// The guard is released once the run finishes.
	_, ok := c.ActiveRun(docDir)
	assert.False(t, ok)
}

func TestSymbolFailureIsIsolated(t *testing.T) {
	docDir := writeTestDocument(t, 1, "valve", "damper")
	detector := &fakeDetector{
		failOpen: map[string]bool{"valve": true},
		candidates: map[string]map[int][]detect.Candidate{
			"damper": {1: {candidateAt(200, 200, 0.8)}},
		},
	}
	c := newTestCoordinator(detector, &fakeRenderer{})

	runID, err := c.Run(context.Background(), docDir, Options{})
	require.NoError(t, err)

	storage, err := store.NewStorage(docDir)
	require.NoError(t, err)
	loaded, err := storage.LoadRun(runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, loaded.Status)
	assert.NotContains(t, loaded.SymbolDetections, "valve")
	assert.Len(t, loaded.SymbolDetections["damper"].DetectionsByPage[1], 1)

	ledger, err := progress.LoadLedger(filepath.Join(storage.RunDir(runID), progress.LedgerFileName))
	require.NoError(t, err)
	assert.Equal(t, progress.SymbolFailed, ledger.SymbolProgress["Symbol valve"].Status)
	assert.Equal(t, progress.SymbolCompleted, ledger.SymbolProgress["Symbol damper"].Status)
	require.NotEmpty(t, ledger.Warnings)
}

func TestPageFailureIsIsolated(t *testing.T) {
	docDir := writeTestDocument(t, 3, "valve")
	detector := &fakeDetector{
		candidates: map[string]map[int][]detect.Candidate{
			"valve": {1: {candidateAt(100, 100, 0.9)}, 3: {candidateAt(300, 300, 0.8)}},
		},
	}
	renderer := &fakeRenderer{failPage: 2}
	c := newTestCoordinator(detector, renderer)

	runID, err := c.Run(context.Background(), docDir, Options{})
	require.NoError(t, err)

	storage, err := store.NewStorage(docDir)
	require.NoError(t, err)
	loaded, err := storage.LoadRun(runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, loaded.Status)

	result := loaded.SymbolDetections["valve"]
	assert.Len(t, result.DetectionsByPage[1], 1)
	assert.Len(t, result.DetectionsByPage[3], 1)
	assert.NotContains(t, result.DetectionsByPage, 2)

	ledger, err := progress.LoadLedger(filepath.Join(storage.RunDir(runID), progress.LedgerFileName))
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.CompletedSteps) // failed page still counts as a step
	require.NotEmpty(t, ledger.Warnings)
}

func TestCancellationMarksRunFailed(t *testing.T) {
	docDir := writeTestDocument(t, 2, "valve")
	ctx, cancel := context.WithCancel(context.Background())

	detector := &fakeDetector{}
	renderer := &fakeRenderer{}
	c := newTestCoordinator(detector, renderer)
	// Cancel after the first page renders; the check between pages fires.
	c.newRenderer = func(string, int) (raster.PageRenderer, error) {
		return renderFunc(func(rctx context.Context, pageNumber, dpi int) (image.Image, error) {
			cancel()
			return renderer.RenderPage(rctx, pageNumber, dpi)
		}, renderer), nil
	}

	runID, err := c.Run(ctx, docDir, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, renderer.closed)

	storage, err := store.NewStorage(docDir)
	require.NoError(t, err)
	loaded, err := storage.LoadRun(runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, loaded.Status)
	assert.Contains(t, loaded.FinalMessage, "cancelled")
}

// renderFunc adapts a function to raster.PageRenderer, delegating Close.
type renderFuncT struct {
	fn     func(context.Context, int, int) (image.Image, error)
	closer raster.PageRenderer
}

func renderFunc(fn func(context.Context, int, int) (image.Image, error), closer raster.PageRenderer) raster.PageRenderer {
	return &renderFuncT{fn: fn, closer: closer}
}

func (r *renderFuncT) RenderPage(ctx context.Context, pageNumber, dpi int) (image.Image, error) {
	return r.fn(ctx, pageNumber, dpi)
}

func (r *renderFuncT) Close() error { return r.closer.Close() }

func TestRunDerivesBaseDPIFromGeometry(t *testing.T) {
	docDir := writeTestDocument(t, 1, "valve")
	renderer := &fakeRenderer{}
	c := newTestCoordinator(&fakeDetector{}, renderer)

	var gotDPI int
	c.newRenderer = func(_ string, baseDPI int) (raster.PageRenderer, error) {
		gotDPI = baseDPI
		return renderer, nil
	}

	_, err := c.Run(context.Background(), docDir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 300, gotDPI) // geometry's high-res DPI
}

func TestRunHonorsPageBaseDPIOverride(t *testing.T) {
	docDir := writeTestDocument(t, 1, "valve")
	renderer := &fakeRenderer{}
	c := newTestCoordinator(&fakeDetector{}, renderer)

	var gotDPI int
	c.newRenderer = func(_ string, baseDPI int) (raster.PageRenderer, error) {
		gotDPI = baseDPI
		return renderer, nil
	}

	_, err := c.Run(context.Background(), docDir, Options{PageBaseDPI: 240})
	require.NoError(t, err)
	assert.Equal(t, 240, gotDPI)
}

func TestUnknownSymbolIDsAreWarnedAndSkipped(t *testing.T) {
	docDir := writeTestDocument(t, 1, "valve")
	detector := &fakeDetector{}
	c := newTestCoordinator(detector, &fakeRenderer{})

	runID, err := c.Run(context.Background(), docDir, Options{
		SymbolIDs: []string{"valve", "ghost"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"valve"}, detector.opened)

	storage, err := store.NewStorage(docDir)
	require.NoError(t, err)
	ledger, err := progress.LoadLedger(filepath.Join(storage.RunDir(runID), progress.LedgerFileName))
	require.NoError(t, err)
	require.NotEmpty(t, ledger.Warnings)
	assert.Contains(t, ledger.Warnings[0].Message, "not found")
}

func TestRunFailsWithoutMetadata(t *testing.T) {
	docDir := t.TempDir() // no page_metadata.json, no catalog
	c := newTestCoordinator(&fakeDetector{}, &fakeRenderer{})

	_, err := c.Run(context.Background(), docDir, Options{})
	require.Error(t, err)

	// Nothing recorded for an unloadable document.
	_, statErr := os.Stat(filepath.Join(docDir, "symbols", "detections"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRejectsInvalidParams(t *testing.T) {
	docDir := writeTestDocument(t, 1, "valve")
	c := newTestCoordinator(&fakeDetector{}, &fakeRenderer{})

	p := detect.DefaultParams()
	p.MatchThreshold = 1.5
	_, err := c.Run(context.Background(), docDir, Options{Params: p})
	assert.Error(t, err)
}
