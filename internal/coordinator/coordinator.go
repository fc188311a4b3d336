// Package coordinator orchestrates detection runs: it walks every selected
// symbol across every page, isolates per-symbol and per-page failures, and
// persists results and progress as it goes.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/detect"
	"symbol-detect/internal/progress"
	"symbol-detect/internal/raster"
	"symbol-detect/internal/store"
)

// ErrRunActive is returned when a document already has a run in flight.
// One run per document: results directories are keyed by run id but progress
// and page caches are not designed for interleaved writers.
var ErrRunActive = errors.New("a detection run is already active for this document")

// Template is a prepared symbol template, ready to scan pages.
type Template interface {
	// DetectPage scans one page raster, rendered at the detection DPI,
	// and returns surviving candidates.
	DetectPage(ctx context.Context, page image.Image, geom coords.PageGeometry, p detect.Params) ([]detect.Candidate, error)
	// Size returns the template's pixel dimensions.
	Size() (width, height int)
	Close() error
}

// Detector opens symbol templates for matching. The production implementation
// wraps the OpenCV pipeline; tests substitute fakes.
type Detector interface {
	OpenTemplate(path string) (Template, error)
}

// OverlayWriter is optionally implemented by detectors that can render debug
// overlays of candidates onto page rasters.
type OverlayWriter interface {
	WriteOverlay(page image.Image, candidates []detect.Candidate, path string) error
}

// Options configures one detection run.
type Options struct {
	// Params are the matching thresholds; zero value means defaults.
	Params detect.Params

	// SymbolIDs restricts the run to a subset of the catalog. Empty runs
	// every symbol.
	SymbolIDs []string

	// PageBaseDPI overrides the DPI the pre-rendered page images are
	// assumed to be stored at. Zero derives it from the page geometry.
	PageBaseDPI int

	// DebugOverlay writes annotated page images under the run directory
	// for pages that produced candidates.
	DebugOverlay bool
}

// Coordinator runs detections. Safe for concurrent use; concurrent runs on
// distinct documents proceed in parallel, a second run on the same document
// is refused.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]string // docDir -> run id

	detector    Detector
	newRenderer func(docDir string, baseDPI int) (raster.PageRenderer, error)
	log         *slog.Logger
}

// New creates a coordinator using the given detector.
func New(detector Detector, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		active:   map[string]string{},
		detector: detector,
		newRenderer: func(docDir string, baseDPI int) (raster.PageRenderer, error) {
			return raster.NewDirRenderer(docDir, baseDPI)
		},
		log: logger,
	}
}

// ActiveRun reports the run currently processing a document, if any.
func (c *Coordinator) ActiveRun(docDir string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	runID, ok := c.active[docDir]
	return runID, ok
}

func (c *Coordinator) acquire(docDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runID, ok := c.active[docDir]; ok {
		return fmt.Errorf("%w: run %s", ErrRunActive, runID)
	}
	c.active[docDir] = ""
	return nil
}

func (c *Coordinator) setActiveRun(docDir, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[docDir] = runID
}

func (c *Coordinator) release(docDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, docDir)
}

// Run executes a full detection pass over a document and returns the run id.
// Document metadata failures abort before a run is recorded; once a run
// exists, failures are captured in its record and ledger. Per-symbol and
// per-page errors are logged and skipped, never fatal. Cancellation is
// honored between pages; a cancelled run is marked failed.
func (c *Coordinator) Run(ctx context.Context, docDir string, opts Options) (string, error) {
	if err := c.acquire(docDir); err != nil {
		return "", err
	}
	defer c.release(docDir)

	params := opts.Params
	if params == (detect.Params{}) {
		params = detect.DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return "", fmt.Errorf("invalid detection params: %w", err)
	}

	pages, err := LoadPageGeometry(docDir)
	if err != nil {
		return "", err
	}
	catalog, err := LoadCatalog(docDir)
	if err != nil {
		return "", err
	}
	selected, missing := catalog.Select(opts.SymbolIDs)
	if len(selected) == 0 {
		return "", fmt.Errorf("no symbols to process in %s", docDir)
	}

	storage, err := store.NewStorage(docDir)
	if err != nil {
		return "", err
	}

	symbolIDs := make([]string, len(selected))
	symbolNames := make([]string, len(selected))
	for i, s := range selected {
		symbolIDs[i] = s.ID
		symbolNames[i] = s.Name
	}

	runID, err := storage.CreateRun(store.RunParams{
		Detection:    params,
		SymbolIDs:    symbolIDs,
		TotalSymbols: len(selected),
		TotalPages:   len(pages),
		DocID:        filepath.Base(docDir),
	})
	if err != nil {
		return "", err
	}
	c.setActiveRun(docDir, runID)

	tracker, err := progress.NewTracker(runID, storage.RunDir(runID))
	if err != nil {
		return runID, err
	}
	log := c.log.With("run_id", runID, "doc", filepath.Base(docDir))

	for _, id := range missing {
		log.Warn("requested symbol not in catalog, skipping", "symbol_id", id)
		tracker.AddWarning("requested symbol not found in catalog", map[string]any{"symbolId": id})
	}

	fail := func(msg string, cause error) (string, error) {
		log.Error(msg, "error", cause)
		tracker.AddError(msg, map[string]any{"error": cause.Error()})
		tracker.CompleteDetection(false, "")
		if err := storage.CompleteRun(runID, false, msg); err != nil {
			log.Error("failed to finalize failed run", "error", err)
		}
		return runID, fmt.Errorf("%s: %w", msg, cause)
	}

	baseDPI := opts.PageBaseDPI
	if baseDPI <= 0 {
		baseDPI = pageBaseDPI(pages)
	}
	renderer, err := c.newRenderer(docDir, baseDPI)
	if err != nil {
		return fail("failed to open page renderer", err)
	}
	defer renderer.Close()

	if err := storage.StartRun(runID); err != nil {
		return fail("failed to start run", err)
	}
	tracker.StartDetection(len(selected), len(pages), symbolNames)
	log.Info("detection started", "symbols", len(selected), "pages", len(pages))

	// Pages are rendered at the detection DPI once and shared across all
	// symbols; rendering dominates the per-page cost otherwise.
	pageCache := map[int]image.Image{}
	renderPage := func(ctx context.Context, n int) (image.Image, error) {
		if img, ok := pageCache[n]; ok {
			return img, nil
		}
		img, err := renderer.RenderPage(ctx, n, coords.DetectionDPI)
		if err != nil {
			return nil, err
		}
		pageCache[n] = img
		return img, nil
	}

	for i, sym := range selected {
		tracker.StartSymbolProcessing(sym.Name, i, len(selected))

		detections, symErr := c.processSymbol(ctx, symbolRun{
			sym:        sym,
			catalog:    catalog,
			pages:      pages,
			params:     params,
			renderPage: renderPage,
			tracker:    tracker,
			log:        log.With("symbol", sym.Name),
			overlayDir: overlayDir(storage, runID, opts.DebugOverlay),
		})
		if symErr != nil {
			if errors.Is(symErr, context.Canceled) || errors.Is(symErr, context.DeadlineExceeded) {
				return fail("detection cancelled", symErr)
			}
			log.Warn("symbol processing failed, continuing with remaining symbols",
				"symbol", sym.Name, "error", symErr)
			tracker.AddWarning("symbol processing failed", map[string]any{
				"symbolId": sym.ID, "symbolName": sym.Name, "error": symErr.Error(),
			})
			tracker.FailSymbol(sym.Name)
			continue
		}

		if err := storage.SaveSymbolDetections(runID, sym.ID, sym, detections); err != nil {
			log.Warn("failed to save symbol detections", "symbol", sym.Name, "error", err)
			tracker.AddWarning("failed to save symbol detections", map[string]any{
				"symbolId": sym.ID, "error": err.Error(),
			})
			tracker.FailSymbol(sym.Name)
			continue
		}
		total := 0
		for _, list := range detections {
			total += len(list)
		}
		tracker.CompleteSymbolProcessing(sym.Name, total)
		log.Info("symbol complete", "symbol", sym.Name, "detections", total)
	}

	if err := storage.CompleteRun(runID, true, ""); err != nil {
		return fail("failed to finalize run", err)
	}
	tracker.CompleteDetection(true, "")
	log.Info("detection complete")
	return runID, nil
}

type symbolRun struct {
	sym        store.SymbolInfo
	catalog    *Catalog
	pages      []coords.PageGeometry
	params     detect.Params
	renderPage func(context.Context, int) (image.Image, error)
	tracker    *progress.Tracker
	log        *slog.Logger
	overlayDir string
}

// processSymbol scans one symbol across every page. Page-level failures are
// recorded and skipped; the returned error is reserved for template load
// failures and cancellation.
func (c *Coordinator) processSymbol(ctx context.Context, r symbolRun) (map[int][]detect.Candidate, error) {
	tpl, err := c.detector.OpenTemplate(r.catalog.TemplatePath(r.sym))
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	defer tpl.Close()

	byPage := map[int][]detect.Candidate{}
	for _, geom := range r.pages {
		// Cancellation takes effect between pages; a page scan in flight
		// always runs to completion so its results are never half-saved.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.renderPage(ctx, geom.PageNumber)
		if err != nil {
			r.log.Warn("page render failed, skipping", "page", geom.PageNumber, "error", err)
			r.tracker.AddWarning("page render failed", map[string]any{
				"symbolId": r.sym.ID, "page": geom.PageNumber, "error": err.Error(),
			})
			r.tracker.CompleteStep()
			continue
		}

		candidates, err := tpl.DetectPage(ctx, page, geom, r.params)
		if err != nil {
			r.log.Warn("page detection failed, skipping", "page", geom.PageNumber, "error", err)
			r.tracker.AddWarning("page detection failed", map[string]any{
				"symbolId": r.sym.ID, "page": geom.PageNumber, "error": err.Error(),
			})
			r.tracker.CompleteStep()
			continue
		}

		if len(candidates) > 0 {
			byPage[geom.PageNumber] = candidates
			c.writeOverlay(r, page, geom.PageNumber, candidates)
		}
		r.tracker.UpdatePageProgress(geom.PageNumber, len(candidates), len(r.pages))
		r.tracker.CompleteStep()
	}
	return byPage, nil
}

func (c *Coordinator) writeOverlay(r symbolRun, page image.Image, pageNumber int, candidates []detect.Candidate) {
	if r.overlayDir == "" {
		return
	}
	ow, ok := c.detector.(OverlayWriter)
	if !ok {
		return
	}
	if err := os.MkdirAll(r.overlayDir, 0o755); err != nil {
		r.log.Warn("failed to create overlay directory", "error", err)
		return
	}
	path := filepath.Join(r.overlayDir, fmt.Sprintf("page_%d_%s.png", pageNumber, r.sym.ID))
	if err := ow.WriteOverlay(page, candidates, path); err != nil {
		r.log.Warn("failed to write debug overlay", "page", pageNumber, "error", err)
	}
}

func overlayDir(storage *store.Storage, runID string, enabled bool) string {
	if !enabled {
		return ""
	}
	return filepath.Join(storage.RunDir(runID), "debug")
}

// pageBaseDPI picks the DPI the pre-rendered page images are stored at when
// no override is configured.
func pageBaseDPI(pages []coords.PageGeometry) int {
	if pages[0].HighResDPI > 0 {
		return pages[0].HighResDPI
	}
	return pages[0].RasterDPI
}
