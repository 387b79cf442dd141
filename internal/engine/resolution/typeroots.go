package resolution

import "path/filepath"

// effectiveTypeRoots is the configured list, or the conventional
// "<dependency dir>/@types" directories under the project root.
func (c *Cache) effectiveTypeRoots() []string {
	if len(c.compiler.TypeRoots) > 0 {
		roots := make([]string, 0, len(c.compiler.TypeRoots))
		for _, r := range c.compiler.TypeRoots {
			roots = append(roots, c.sys.CanonicalPath(r))
		}
		return roots
	}
	roots := make([]string, 0, len(c.depDirs))
	for _, dep := range c.depDirs {
		roots = append(roots, filepath.Join(c.rootDir, dep, "@types"))
	}
	return roots
}

// UpdateTypeRootsWatch reconciles directory watches over the effective
// type-roots list. A change under a type root raises the distinct
// "automatic type directive names changed" signal via OnTypeRootsChanged,
// not an ordinary resolution invalidation.
func (c *Cache) UpdateTypeRootsWatch() {
	wanted := make(map[string]bool)
	for _, root := range c.effectiveTypeRoots() {
		wanted[root] = true
	}

	for root, handle := range c.typeRootWatches {
		if wanted[root] {
			continue
		}
		handle.Close()
		delete(c.typeRootWatches, root)
	}

	for root := range wanted {
		if _, ok := c.typeRootWatches[root]; ok {
			continue
		}
		handle, err := c.sys.WatchDirectory(root, func(path string) {
			if c.onTypeRootsChanged != nil {
				c.onTypeRootsChanged(path)
			}
		}, true)
		if err != nil {
			c.log.Warn("failed to watch type root", "dir", root, "error", err)
			continue
		}
		c.typeRootWatches[root] = handle
	}
}

// CloseTypeRootsWatch releases every type-roots watch.
func (c *Cache) CloseTypeRootsWatch() {
	for root, handle := range c.typeRootWatches {
		handle.Close()
		delete(c.typeRootWatches, root)
	}
}
