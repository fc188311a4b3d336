package detect

import (
	"sort"

	"symbol-detect/pkg/geometry"
)

// rawMatch is one threshold crossing from template matching: the match
// location (top-left, page pixels) plus the variant that produced it.
type rawMatch struct {
	point      geometry.Point2D
	confidence float64
	width      int
	height     int
	angle      int
}

// dedupeByDistance performs greedy non-maximum suppression: matches are
// visited in descending confidence order and kept only when their location
// is at least minDistance away from every already-kept match. This is not
// clustering; order matters and ties keep their original iteration order.
func dedupeByDistance(matches []rawMatch, minDistance float64) []rawMatch {
	sorted := make([]rawMatch, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].confidence > sorted[j].confidence
	})

	var kept []rawMatch
	for _, m := range sorted {
		tooClose := false
		for _, k := range kept {
			if m.point.Distance(k.point) < minDistance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, m)
		}
	}
	return kept
}
