package resolution

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"relay/internal/core/errors"
	"relay/internal/core/ports"
	"relay/internal/shared/observability"
)

type nameKind string

const (
	kindModule  nameKind = "module"
	kindTypeRef nameKind = "typeref"
)

// Record is the cached outcome of resolving one name from one containing
// file. It is owned by exactly one per-file cache entry; per-directory
// entries within a pass alias the same record, they never copy it.
type Record struct {
	ResolvedPath          string
	FailedLookupLocations []string
	Invalidated           bool

	gen uint64
}

func (r *Record) IsResolved() bool {
	return r.ResolvedPath != ""
}

type dirWatch struct {
	handle   ports.WatchHandle
	refCount int
}

// Options configures a project-scoped Cache. One Cache is constructed at
// project open and disposed at project close; there is no process-wide
// instance.
type Options struct {
	System  ports.System
	Loader  ports.Loader
	Logger  *slog.Logger
	RootDir string

	DependencyDirs  []string
	KnownExtensions []string
	// MaxPreciseFiles is the invalidation-bookkeeping ceiling; beyond it
	// invalidation degrades to "everything may be invalidated".
	MaxPreciseFiles int

	Compiler ports.CompilerOptions

	// OnDirectoryEvent receives raw failed-lookup directory watch events.
	// It runs on the watcher's goroutine and must only enqueue; the host
	// later feeds the event back through InvalidateFromWatchEvent.
	OnDirectoryEvent func(watchedDir, path string)
	// OnTypeRootsChanged receives type-roots watch events, same discipline.
	OnTypeRootsChanged func(path string)

	// Strict makes invariant violations panic instead of just logging.
	Strict bool
}

// Cache memoizes per-file and per-directory name resolutions, owns the
// ref-counted directory watches over failed-lookup locations, and tracks
// which containing files need re-resolution. All methods must be called
// from one logical execution context.
type Cache struct {
	sys    ports.System
	loader ports.Loader
	log    *slog.Logger

	rootDir     string
	rootWithSep string
	depDirs     []string
	knownExts   map[string]bool
	maxPrecise  int
	compiler    ports.CompilerOptions
	strict      bool

	onDirectoryEvent   func(watchedDir, path string)
	onTypeRootsChanged func(path string)

	moduleNames    map[string]map[string]*Record
	typeDirectives map[string]map[string]*Record

	perDirModules  map[string]map[string]*Record
	perDirTypeRefs map[string]map[string]*Record
	perDirActive   bool

	dirWatches  map[string]*dirWatch
	customPaths map[string]int

	typeRootWatches map[string]ports.WatchHandle

	gen      uint64
	staleGen uint64

	filesWithInvalidated map[string]bool
	allInvalidated       bool

	recordingChanges bool
	changedFiles     map[string]bool

	closed bool
}

func NewCache(opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxPrecise := opts.MaxPreciseFiles
	if maxPrecise <= 0 {
		maxPrecise = 256
	}
	knownExts := make(map[string]bool, len(opts.KnownExtensions))
	for _, ext := range opts.KnownExtensions {
		knownExts[strings.ToLower(ext)] = true
	}
	root := opts.System.CanonicalPath(opts.RootDir)
	return &Cache{
		sys:                  opts.System,
		loader:               opts.Loader,
		log:                  log,
		rootDir:              root,
		rootWithSep:          root + string(filepath.Separator),
		depDirs:              append([]string(nil), opts.DependencyDirs...),
		knownExts:            knownExts,
		maxPrecise:           maxPrecise,
		compiler:             opts.Compiler,
		strict:               opts.Strict,
		onDirectoryEvent:     opts.OnDirectoryEvent,
		onTypeRootsChanged:   opts.OnTypeRootsChanged,
		moduleNames:          make(map[string]map[string]*Record),
		typeDirectives:       make(map[string]map[string]*Record),
		dirWatches:           make(map[string]*dirWatch),
		customPaths:          make(map[string]int),
		typeRootWatches:      make(map[string]ports.WatchHandle),
		filesWithInvalidated: make(map[string]bool),
		changedFiles:         make(map[string]bool),
		gen:                  1,
	}
}

var _ ports.NameResolver = (*Cache)(nil)

// ResolveModuleNames returns one result per input name, in input order.
// Unresolved is a valid outcome, never an error. Names cached from a prior
// round but neither requested now nor listed in reusedNames are dropped and
// unwatched.
func (c *Cache) ResolveModuleNames(names []string, containingFile string, reusedNames []string, logChanges bool) []ports.ResolvedModule {
	reused := make(map[string]bool, len(reusedNames))
	for _, n := range reusedNames {
		reused[n] = true
	}
	return c.resolveNames(kindModule, names, containingFile, reused, c.moduleNames, c.perDirModules, logChanges)
}

// ResolveTypeReferenceDirectives is the type-reference twin of
// ResolveModuleNames, without reuse carry-over or change logging.
func (c *Cache) ResolveTypeReferenceDirectives(names []string, containingFile string) []ports.ResolvedModule {
	return c.resolveNames(kindTypeRef, names, containingFile, nil, c.typeDirectives, c.perDirTypeRefs, false)
}

func (c *Cache) resolveNames(
	kind nameKind,
	names []string,
	containingFile string,
	reused map[string]bool,
	perFileAll map[string]map[string]*Record,
	perDirAll map[string]map[string]*Record,
	logChanges bool,
) []ports.ResolvedModule {
	if c.closed {
		c.invariant(false, "resolve called on a cleared cache")
		return make([]ports.ResolvedModule, len(names))
	}

	path := c.sys.CanonicalPath(containingFile)
	dir := filepath.Dir(path)

	perFile := perFileAll[path]
	if perFile == nil {
		perFile = make(map[string]*Record, len(names))
		perFileAll[path] = perFile
	}

	var perDir map[string]*Record
	if c.perDirActive && perDirAll != nil {
		perDir = perDirAll[dir]
		if perDir == nil {
			perDir = make(map[string]*Record, len(names))
			perDirAll[dir] = perDir
		}
	}

	seen := make(map[string]bool, len(names))
	results := make([]ports.ResolvedModule, 0, len(names))

	for _, name := range names {
		rec := perFile[name]
		switch {
		case c.valid(rec):
			observability.ResolutionLookupsTotal.WithLabelValues(string(kind), "per_file").Inc()

		case perDir != nil && c.valid(perDir[name]):
			// A directory-level hit is aliased into the per-file map;
			// this entry contributes its own watch counts so eviction
			// stays lexically paired per containing file.
			shared := perDir[name]
			c.adoptRecord(path, name, perFile, shared, rec, logChanges)
			rec = shared
			observability.ResolutionLookupsTotal.WithLabelValues(string(kind), "per_directory").Inc()

		default:
			fresh := c.loadFresh(name, containingFile)
			c.adoptRecord(path, name, perFile, fresh, rec, logChanges)
			if perDir != nil {
				perDir[name] = fresh
			}
			rec = fresh
			observability.ResolutionLookupsTotal.WithLabelValues(string(kind), "loader").Inc()
		}

		seen[name] = true
		results = append(results, ports.ResolvedModule{Resolved: rec.IsResolved(), Path: rec.ResolvedPath})
	}

	for name, rec := range perFile {
		if seen[name] || (reused != nil && reused[name]) {
			continue
		}
		c.unwatchFailedLookups(rec)
		delete(perFile, name)
	}
	if len(perFile) == 0 {
		delete(perFileAll, path)
	}

	return results
}

func (c *Cache) loadFresh(name, containingFile string) *Record {
	out := c.loader.Resolve(name, containingFile, c.compiler)
	return &Record{
		ResolvedPath:          out.ResolvedPath,
		FailedLookupLocations: out.FailedLookupLocations,
		gen:                   c.gen,
	}
}

// adoptRecord installs rec as the containing file's entry for one name,
// releasing the watches of any prior entry and recording a changed
// resolution when the resolved target moved.
func (c *Cache) adoptRecord(path, name string, perFile map[string]*Record, rec, prior *Record, logChanges bool) {
	if prior != nil {
		if logChanges && c.recordingChanges && !c.changedFiles[path] && !sameTarget(c.sys, prior, rec) {
			c.changedFiles[path] = true
		}
		c.unwatchFailedLookups(prior)
	}
	perFile[name] = rec
	c.watchFailedLookups(rec)
}

func sameTarget(sys ports.System, a, b *Record) bool {
	if a.IsResolved() != b.IsResolved() {
		return false
	}
	if !a.IsResolved() {
		return true
	}
	return sys.CanonicalPath(a.ResolvedPath) == sys.CanonicalPath(b.ResolvedPath)
}

func (c *Cache) valid(r *Record) bool {
	return r != nil && !r.Invalidated && r.gen > c.staleGen
}

// StartCachingPerDirectoryResolution brackets the start of one rebuild pass.
// Precondition carried from the original design: within one pass every file
// in a directory resolves a given name identically, even when reusedNames
// differs between those files.
func (c *Cache) StartCachingPerDirectoryResolution() {
	c.invariant(!c.perDirActive, "per-directory pass already active")
	c.perDirModules = make(map[string]map[string]*Record)
	c.perDirTypeRefs = make(map[string]map[string]*Record)
	c.perDirActive = true
}

// FinishCachingPerDirectoryResolution empties the per-directory reuse maps
// (compiler options or global state may differ next pass) and prunes every
// directory watch whose ref count dropped to zero during the pass.
func (c *Cache) FinishCachingPerDirectoryResolution() {
	c.invariant(c.perDirActive, "per-directory pass not active")
	c.perDirActive = false
	c.perDirModules = nil
	c.perDirTypeRefs = nil

	for dir, w := range c.dirWatches {
		if w.refCount > 0 {
			continue
		}
		if w.handle != nil {
			w.handle.Close()
			observability.DirectoryWatchesActive.Dec()
		}
		delete(c.dirWatches, dir)
	}
	c.gen++
}

// StartRecordingFilesWithChangedResolutions begins collecting the containing
// files whose resolved-target set changes during the pass.
func (c *Cache) StartRecordingFilesWithChangedResolutions() {
	c.recordingChanges = true
	c.changedFiles = make(map[string]bool)
}

// FinishRecordingFilesWithChangedResolutions returns the collected files in
// sorted order and stops recording.
func (c *Cache) FinishRecordingFilesWithChangedResolutions() []string {
	c.recordingChanges = false
	files := make([]string, 0, len(c.changedFiles))
	for f := range c.changedFiles {
		files = append(files, f)
	}
	sort.Strings(files)
	c.changedFiles = make(map[string]bool)
	return files
}

// RemoveResolutionsOfFile purges and unwatches a file's own cached
// resolutions without implying anything about resolutions that targeted it.
func (c *Cache) RemoveResolutionsOfFile(path string) {
	canon := c.sys.CanonicalPath(path)
	c.removeContainingFile(c.moduleNames, canon)
	c.removeContainingFile(c.typeDirectives, canon)
	delete(c.filesWithInvalidated, canon)
}

func (c *Cache) removeContainingFile(perFileAll map[string]map[string]*Record, canon string) {
	perFile, ok := perFileAll[canon]
	if !ok {
		return
	}
	for _, rec := range perFile {
		c.unwatchFailedLookups(rec)
	}
	delete(perFileAll, canon)
}

// ContainingFileCount reports how many files currently hold cached
// resolutions of either kind.
func (c *Cache) ContainingFileCount() int {
	total := len(c.moduleNames)
	for path := range c.typeDirectives {
		if _, dup := c.moduleNames[path]; !dup {
			total++
		}
	}
	return total
}

// Clear releases every watch and cache. Used once at project close; the
// cache rejects further use afterwards.
func (c *Cache) Clear() {
	if c.closed {
		return
	}
	for dir, w := range c.dirWatches {
		if w.handle != nil {
			w.handle.Close()
			observability.DirectoryWatchesActive.Dec()
		}
		delete(c.dirWatches, dir)
	}
	c.CloseTypeRootsWatch()
	observability.CustomFailedLookupPaths.Sub(float64(len(c.customPaths)))

	c.moduleNames = make(map[string]map[string]*Record)
	c.typeDirectives = make(map[string]map[string]*Record)
	c.perDirModules = nil
	c.perDirTypeRefs = nil
	c.perDirActive = false
	c.customPaths = make(map[string]int)
	c.filesWithInvalidated = make(map[string]bool)
	c.changedFiles = make(map[string]bool)
	c.allInvalidated = false
	c.closed = true
}

func (c *Cache) invariant(cond bool, msg string) {
	if cond {
		return
	}
	c.log.Error("resolution cache invariant violated", "invariant", msg)
	if c.strict {
		panic(errors.New(errors.CodeInvariantViolation, msg))
	}
}
