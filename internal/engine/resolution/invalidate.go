package resolution

import (
	"path/filepath"
	"strings"

	"relay/internal/shared/observability"
)

// InvalidateResolutionOfFile marks every cached resolution whose resolved
// target is path as invalidated, then purges and unwatches path's own cache
// entries (it no longer exists as a containing file).
func (c *Cache) InvalidateResolutionOfFile(path string) {
	canon := c.sys.CanonicalPath(path)

	if c.ContainingFileCount() > c.maxPrecise {
		c.invalidateAllResolutions()
	} else {
		c.invalidateMatching(func(rec *Record) bool {
			return rec.IsResolved() && c.sys.CanonicalPath(rec.ResolvedPath) == canon
		})
	}

	c.RemoveResolutionsOfFile(path)
}

// InvalidateFromWatchEvent applies one filesystem event observed under a
// failed-lookup directory watch. It reports whether any resolution was
// invalidated, so the host can schedule recomputation.
func (c *Cache) InvalidateFromWatchEvent(watchedDir, changedPath string) bool {
	if c.closed {
		return false
	}
	path := c.sys.CanonicalPath(changedPath)

	// Directory creation (or an event on the watch root itself) can
	// satisfy any failed lookup nested under it; a plain file event only
	// matches exactly.
	coversSubtree := path == c.sys.CanonicalPath(watchedDir) || c.sys.DirectoryExists(path)

	if !coversSubtree {
		ext := strings.ToLower(filepath.Ext(path))
		if !c.knownExts[ext] {
			if _, tracked := c.customPaths[path]; !tracked {
				return false
			}
		}
	}

	if c.ContainingFileCount() > c.maxPrecise {
		c.invalidateAllResolutions()
		return true
	}

	prefix := path + string(filepath.Separator)
	return c.invalidateMatching(func(rec *Record) bool {
		for _, loc := range rec.FailedLookupLocations {
			canon := c.sys.CanonicalPath(loc)
			if canon == path {
				return true
			}
			if coversSubtree && strings.HasPrefix(canon, prefix) {
				return true
			}
		}
		return false
	})
}

func (c *Cache) invalidateMatching(match func(*Record) bool) bool {
	any := false
	for _, perFileAll := range []map[string]map[string]*Record{c.moduleNames, c.typeDirectives} {
		for containing, perFile := range perFileAll {
			for _, rec := range perFile {
				if rec.Invalidated || !match(rec) {
					continue
				}
				rec.Invalidated = true
				c.filesWithInvalidated[containing] = true
				observability.ResolutionsInvalidatedTotal.Inc()
				any = true
			}
		}
	}
	return any
}

func (c *Cache) invalidateAllResolutions() {
	c.allInvalidated = true
	c.staleGen = c.gen
	c.gen++
	observability.FullInvalidationsTotal.Inc()
}

// InvalidateEverything is the external safety valve: used when the host
// lost track of individual events (e.g. notification queue overflow).
func (c *Cache) InvalidateEverything() {
	c.invalidateAllResolutions()
}

// CreateHasInvalidatedResolution snapshots this pass's invalidation
// bookkeeping into a predicate and resets it. When the ceiling was
// exceeded the predicate is true for every path: bounded cost over
// precision, and over-invalidating is always safe.
func (c *Cache) CreateHasInvalidatedResolution() func(path string) bool {
	if c.allInvalidated {
		c.allInvalidated = false
		c.filesWithInvalidated = make(map[string]bool)
		return func(string) bool { return true }
	}

	invalidated := c.filesWithInvalidated
	c.filesWithInvalidated = make(map[string]bool)
	if len(invalidated) == 0 {
		return func(string) bool { return false }
	}
	return func(path string) bool {
		return invalidated[c.sys.CanonicalPath(path)]
	}
}
