package resolution

import (
	"path/filepath"
	"strings"

	"relay/internal/shared/observability"
)

// watchFailedLookups acquires one directory-watch contribution per failed
// lookup location of rec. Every call is paired with exactly one
// unwatchFailedLookups on the eviction path of the same per-file entry.
func (c *Cache) watchFailedLookups(rec *Record) {
	for _, loc := range rec.FailedLookupLocations {
		canon := c.sys.CanonicalPath(loc)
		dir, ok := c.watchLocationFor(canon)
		if ok {
			c.acquireDirWatch(dir)
		}
		if !c.knownExts[strings.ToLower(filepath.Ext(canon))] {
			if c.customPaths[canon] == 0 {
				observability.CustomFailedLookupPaths.Inc()
			}
			c.customPaths[canon]++
		}
	}
}

func (c *Cache) unwatchFailedLookups(rec *Record) {
	for _, loc := range rec.FailedLookupLocations {
		canon := c.sys.CanonicalPath(loc)
		dir, ok := c.watchLocationFor(canon)
		if ok {
			c.releaseDirWatch(dir)
		}
		if !c.knownExts[strings.ToLower(filepath.Ext(canon))] {
			switch n := c.customPaths[canon]; {
			case n > 1:
				c.customPaths[canon] = n - 1
			case n == 1:
				delete(c.customPaths, canon)
				observability.CustomFailedLookupPaths.Dec()
			default:
				c.invariant(false, "custom failed-lookup path released below zero")
			}
		}
	}
}

// watchLocationFor chooses the directory to watch for one failed lookup:
// the project root when the path falls under it (one shared watch covers
// all such failures), else the nearest dependency-directory ancestor, else
// the ancestor reached by walking up until the parent also contains the
// project root. Paths whose walk reaches the filesystem root unshared are
// not watched.
func (c *Cache) watchLocationFor(failedPath string) (string, bool) {
	if failedPath == c.rootDir || strings.HasPrefix(failedPath, c.rootWithSep) {
		return c.rootDir, true
	}

	for d := filepath.Dir(failedPath); ; {
		base := filepath.Base(d)
		for _, dep := range c.depDirs {
			if base == dep {
				return d, true
			}
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}

	d := filepath.Dir(failedPath)
	for {
		parent := filepath.Dir(d)
		if parent == d {
			return "", false
		}
		if isAncestorDir(parent, c.rootDir) {
			return d, true
		}
		d = parent
	}
}

func isAncestorDir(ancestor, path string) bool {
	if ancestor == path {
		return true
	}
	sep := string(filepath.Separator)
	if ancestor == sep {
		return strings.HasPrefix(path, sep)
	}
	return strings.HasPrefix(path, ancestor+sep)
}

func (c *Cache) acquireDirWatch(dir string) {
	if w, ok := c.dirWatches[dir]; ok {
		w.refCount++
		return
	}

	w := &dirWatch{refCount: 1}
	handle, err := c.sys.WatchDirectory(dir, func(path string) {
		if c.onDirectoryEvent != nil {
			c.onDirectoryEvent(dir, path)
		}
	}, true)
	if err != nil {
		// Degraded: the location is not proactively watched and will only
		// be rechecked on an explicit invalidation.
		c.log.Warn("failed to watch failed-lookup directory", "dir", dir, "error", err)
	} else {
		w.handle = handle
		observability.DirectoryWatchesActive.Inc()
	}
	c.dirWatches[dir] = w
}

// releaseDirWatch drops one contribution. At zero the entry is released
// immediately outside a pass; during a pass it is retained until
// FinishCachingPerDirectoryResolution so re-acquisition stays cheap.
func (c *Cache) releaseDirWatch(dir string) {
	w, ok := c.dirWatches[dir]
	if !ok {
		c.invariant(false, "release of unwatched directory")
		return
	}
	w.refCount--
	if w.refCount < 0 {
		c.invariant(false, "directory watch ref count below zero")
		w.refCount = 0
	}
	if w.refCount == 0 && !c.perDirActive {
		if w.handle != nil {
			w.handle.Close()
			observability.DirectoryWatchesActive.Dec()
		}
		delete(c.dirWatches, dir)
	}
}

// DirectoryWatchRefCount reports the live ref count for a watched directory,
// or zero when none exists.
func (c *Cache) DirectoryWatchRefCount(dir string) int {
	w, ok := c.dirWatches[c.sys.CanonicalPath(dir)]
	if !ok {
		return 0
	}
	return w.refCount
}

// HasDirectoryWatch reports whether any watch entry exists for dir.
func (c *Cache) HasDirectoryWatch(dir string) bool {
	_, ok := c.dirWatches[c.sys.CanonicalPath(dir)]
	return ok
}
