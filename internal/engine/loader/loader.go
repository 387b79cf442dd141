package loader

import (
	"path/filepath"
	"strings"

	"relay/internal/core/ports"
)

// Loader is a reference implementation of the per-name resolve primitive:
// relative names probe next to the containing file, bare names probe
// dependency directories walking up toward the base directory. Every probed
// and missing path is reported as a failed lookup location, in probe order.
type Loader struct {
	fs             ports.FileSystem
	extensions     []string
	dependencyDirs []string
}

func New(fs ports.FileSystem, extensions, dependencyDirs []string) *Loader {
	return &Loader{
		fs:             fs,
		extensions:     append([]string(nil), extensions...),
		dependencyDirs: append([]string(nil), dependencyDirs...),
	}
}

var _ ports.Loader = (*Loader)(nil)

func (l *Loader) Resolve(name, containingFile string, opts ports.CompilerOptions) ports.LookupResult {
	var failed []string

	probe := func(base string) (string, bool) {
		candidates := make([]string, 0, 2*len(l.extensions)+1)
		if filepath.Ext(base) != "" {
			candidates = append(candidates, base)
		}
		for _, ext := range l.extensions {
			candidates = append(candidates, base+ext)
		}
		for _, ext := range l.extensions {
			candidates = append(candidates, filepath.Join(base, "index"+ext))
		}
		for _, candidate := range candidates {
			if l.fs.FileExists(candidate) {
				return candidate, true
			}
			failed = append(failed, candidate)
		}
		return "", false
	}

	dir := filepath.Dir(containingFile)

	if isRelative(name) {
		if resolved, ok := probe(filepath.Join(dir, name)); ok {
			return ports.LookupResult{ResolvedPath: resolved, FailedLookupLocations: failed}
		}
		return ports.LookupResult{FailedLookupLocations: failed}
	}

	stop := opts.BaseDir
	for d := dir; ; {
		for _, dep := range l.dependencyDirs {
			if resolved, ok := probe(filepath.Join(d, dep, name)); ok {
				return ports.LookupResult{ResolvedPath: resolved, FailedLookupLocations: failed}
			}
		}
		if d == stop {
			break
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}

	return ports.LookupResult{FailedLookupLocations: failed}
}

func isRelative(name string) bool {
	return strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") ||
		name == "." || name == ".."
}
