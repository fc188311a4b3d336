package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/store"
)

// Catalog is the document's symbol library, loaded from
// <docDir>/symbols/symbols_metadata.json.
type Catalog struct {
	docDir  string
	symbols []store.SymbolInfo
}

type catalogFile struct {
	Symbols []store.SymbolInfo `json:"symbols"`
}

// LoadCatalog reads the symbol metadata for a document.
func LoadCatalog(docDir string) (*Catalog, error) {
	path := filepath.Join(docDir, "symbols", "symbols_metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load symbols metadata: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse symbols metadata %s: %w", path, err)
	}
	return &Catalog{docDir: docDir, symbols: f.Symbols}, nil
}

// All returns every symbol in catalog order.
func (c *Catalog) All() []store.SymbolInfo {
	return c.symbols
}

// Select returns the symbols matching the given ids, preserving request
// order, plus the ids that matched nothing. An empty request selects the
// whole catalog.
func (c *Catalog) Select(ids []string) (selected []store.SymbolInfo, missing []string) {
	if len(ids) == 0 {
		return c.symbols, nil
	}
	byID := make(map[string]store.SymbolInfo, len(c.symbols))
	for _, s := range c.symbols {
		byID[s.ID] = s
	}
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			selected = append(selected, s)
		} else {
			missing = append(missing, id)
		}
	}
	return selected, missing
}

// TemplatePath resolves a symbol's template image path. Stored paths are
// relative to the document directory.
func (c *Catalog) TemplatePath(s store.SymbolInfo) string {
	return filepath.Join(c.docDir, s.TemplatePath)
}

type pageMetadataFile struct {
	Pages map[string]coords.PageGeometry `json:"pages"`
}

// LoadPageGeometry reads per-page geometry from <docDir>/page_metadata.json,
// returned in ascending page order. A document without usable geometry cannot
// be processed at all, so any failure here is fatal to the caller.
func LoadPageGeometry(docDir string) ([]coords.PageGeometry, error) {
	path := filepath.Join(docDir, "page_metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load page metadata: %w", err)
	}
	var f pageMetadataFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse page metadata %s: %w", path, err)
	}
	if len(f.Pages) == 0 {
		return nil, fmt.Errorf("page metadata %s lists no pages", path)
	}

	pages := make([]coords.PageGeometry, 0, len(f.Pages))
	for key, geom := range f.Pages {
		if geom.PageNumber == 0 {
			// The page number may live only in the map key.
			n, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("page metadata key %q is not a page number", key)
			}
			geom.PageNumber = n
		}
		if !geom.Valid() {
			return nil, fmt.Errorf("page %d geometry is invalid", geom.PageNumber)
		}
		pages = append(pages, geom)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}
