// Package attribution provides a reference xpersist.Tracker: it turns
// a region's final counters into ranked cache-line false-sharing
// hotspots and logs them through zap. It does no source-level object
// attribution (no symbol table, no allocation-site tracking). The core
// makes no judgment about which counters matter; that heuristic lives
// here.
package attribution

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Newportj1/sheriff/xpersist"
)

// Hotspot is one cache line whose invalidation count crossed the
// reporter's threshold, along with the words within it that ended the
// region's lifetime contended by more than one worker.
type Hotspot struct {
	LineIndex   int
	Invalidates uint64
	SharedWords []xpersist.WordChange
}

// HotspotReporter implements xpersist.Tracker. It has nothing to do
// until Finalize, where it ranks a region's final Snapshot into a
// hotspot list and logs a summary through the installed zap.Logger.
type HotspotReporter struct {
	log       *zap.Logger
	threshold uint64

	mu       sync.Mutex
	hotspots []Hotspot
}

// NewHotspotReporter builds a reporter that logs through log (use
// zap.NewNop() to disable logging) and only reports cache lines whose
// final invalidation count is at least threshold.
func NewHotspotReporter(log *zap.Logger, threshold uint64) *HotspotReporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &HotspotReporter{
		log:       log.With(zap.String("component", "attribution")),
		threshold: threshold,
	}
}

// Finalize ranks every cache line at or above the reporter's threshold
// by invalidation count, attaching the words within it that ended the
// region's life contended (SharedMark), and logs the result as a
// summary. The ranked list is retained and can be read back with
// Hotspots.
func (h *HotspotReporter) Finalize(snap xpersist.Snapshot) {
	sharedByLine := make(map[int][]xpersist.WordChange)
	for _, wc := range snap.WordOwners {
		if wc.Tid != xpersist.SharedMark {
			continue
		}
		sharedByLine[wc.LineIndex] = append(sharedByLine[wc.LineIndex], wc)
	}

	var hotspots []Hotspot
	for line, count := range snap.CacheInvalidates {
		if count < h.threshold {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			LineIndex:   line,
			Invalidates: count,
			SharedWords: sharedByLine[line],
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		return hotspots[i].Invalidates > hotspots[j].Invalidates
	})

	h.log.Info("false-sharing summary",
		zap.Int("region_pages", snap.NumPages),
		zap.Int("region_words", snap.NumWords),
		zap.Int("hotspot_count", len(hotspots)),
	)
	for _, hs := range hotspots {
		h.log.Warn("false-sharing hotspot",
			zap.Int("line", hs.LineIndex),
			zap.Uint64("invalidates", hs.Invalidates),
			zap.Int("shared_words", len(hs.SharedWords)),
		)
	}

	h.mu.Lock()
	h.hotspots = hotspots
	h.mu.Unlock()
}

// Hotspots returns the ranked hotspot list computed by the most
// recent Finalize call.
func (h *HotspotReporter) Hotspots() []Hotspot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hotspots
}
