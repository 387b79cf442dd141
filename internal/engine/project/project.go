package project

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"relay/internal/core/errors"
	"relay/internal/core/ports"
	"relay/internal/engine/resolution"
	"relay/internal/shared/observability"
)

type State int

const (
	StateBuilding State = iota
	StateCurrent
	StateDirty
	StateRebuilding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateCurrent:
		return "current"
	case StateDirty:
		return "dirty"
	case StateRebuilding:
		return "rebuilding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures one Project. The Cache is owned by the project from
// this point on and is cleared exactly once at Close.
type Options struct {
	Name     string
	System   ports.System
	Builder  ports.ProgramBuilder
	Cache    *resolution.Cache
	Compiler ports.CompilerOptions
	Logger   *slog.Logger

	// OnFileEvent, when set, receives missing-file and pending-root watch
	// events on the watcher's goroutine; the host feeds them back through
	// HandleWatchedFileEvent. When nil, events are handled inline, which
	// is only safe if the host delivers callbacks on the mutating
	// goroutine (as the in-memory test host does).
	OnFileEvent func(path string, kind ports.FileWatchKind)
}

// Project keeps one checked program consistent with its root-file set and
// the file system, rebuilding lazily on demand. All methods are called from
// one logical execution context.
type Project struct {
	name    string
	sys     ports.System
	builder ports.ProgramBuilder
	cache   *resolution.Cache
	options ports.CompilerOptions
	log     *slog.Logger

	state            State
	structureVersion int
	stateVersion     int
	lastBuiltVersion int

	rootFiles   []string
	rootsByPath map[string]string

	pendingRoots map[string]pendingRoot

	program          *ports.Program
	programSet       map[string]string // canonical -> as reported by builder
	missingWatches   map[string]ports.WatchHandle
	externalFiles    []string
	unresolvedByFile map[string][]string
	unresolvedUnion  []string

	lastReportedVersion int
	lastReportedFiles   map[string]bool
	hasReported         bool
	updatedSinceReport  map[string]bool

	onFileEvent func(path string, kind ports.FileWatchKind)
}

type pendingRoot struct {
	original string
	handle   ports.WatchHandle
}

func New(opts Options) *Project {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Project{
		name:               opts.Name,
		sys:                opts.System,
		builder:            opts.Builder,
		cache:              opts.Cache,
		options:            opts.Compiler,
		log:                log,
		state:              StateBuilding,
		rootsByPath:        make(map[string]string),
		pendingRoots:       make(map[string]pendingRoot),
		programSet:         make(map[string]string),
		missingWatches:     make(map[string]ports.WatchHandle),
		unresolvedByFile:   make(map[string][]string),
		updatedSinceReport: make(map[string]bool),
		onFileEvent:        opts.OnFileEvent,
	}
}

func (p *Project) State() State          { return p.state }
func (p *Project) StructureVersion() int { return p.structureVersion }
func (p *Project) StateVersion() int     { return p.stateVersion }

// Cache exposes the project-scoped resolution cache.
func (p *Project) Cache() *resolution.Cache { return p.cache }

// MarkAsDirty bumps the state version only; recomputation is always lazy,
// triggered by the next graph-consuming call. On a closed project this is a
// cheap no-op.
func (p *Project) MarkAsDirty() {
	if p.state == StateClosed {
		return
	}
	p.stateVersion++
	if p.state == StateCurrent {
		p.state = StateDirty
	}
}

// AddRoot declares file part of the project. A root absent on disk is
// tracked as pending and promoted once its missing-file watch fires. A path
// already present is a no-op.
func (p *Project) AddRoot(file string) error {
	if p.state == StateClosed {
		return errors.New(errors.CodeClosedProject, "add root on closed project")
	}
	canon := p.sys.CanonicalPath(file)
	if _, ok := p.rootsByPath[canon]; ok {
		return nil
	}
	if _, ok := p.pendingRoots[canon]; ok {
		return nil
	}

	if p.sys.FileExists(file) {
		p.rootFiles = append(p.rootFiles, file)
		p.rootsByPath[canon] = file
		p.MarkAsDirty()
		return nil
	}

	pending := pendingRoot{original: file}
	handle, err := p.sys.WatchFile(file, p.fileEventSink(canon))
	if err != nil {
		p.log.Warn("failed to watch pending root", "path", file, "error", err)
	} else {
		pending.handle = handle
	}
	p.pendingRoots[canon] = pending
	p.MarkAsDirty()
	return nil
}

// RemoveRoot withdraws a root (real or pending) and drops its cached
// resolutions.
func (p *Project) RemoveRoot(file string) error {
	if p.state == StateClosed {
		return errors.New(errors.CodeClosedProject, "remove root on closed project")
	}
	canon := p.sys.CanonicalPath(file)

	if pending, ok := p.pendingRoots[canon]; ok {
		if pending.handle != nil {
			pending.handle.Close()
		}
		delete(p.pendingRoots, canon)
		p.MarkAsDirty()
		return nil
	}

	if _, ok := p.rootsByPath[canon]; !ok {
		return nil
	}
	delete(p.rootsByPath, canon)
	for i, f := range p.rootFiles {
		if p.sys.CanonicalPath(f) == canon {
			p.rootFiles = append(p.rootFiles[:i], p.rootFiles[i+1:]...)
			break
		}
	}
	p.cache.RemoveResolutionsOfFile(file)
	p.MarkAsDirty()
	return nil
}

func (p *Project) fileEventSink(canon string) ports.FileWatchCallback {
	return func(path string, kind ports.FileWatchKind) {
		if p.onFileEvent != nil {
			p.onFileEvent(path, kind)
			return
		}
		p.HandleWatchedFileEvent(path, kind)
	}
}

// HandleWatchedFileEvent applies one file-level watch notification on the
// mutating goroutine: pending roots are promoted, missing files trigger
// re-resolution, deletions of program files invalidate resolutions that
// targeted them.
func (p *Project) HandleWatchedFileEvent(path string, kind ports.FileWatchKind) {
	if p.state == StateClosed {
		return
	}
	canon := p.sys.CanonicalPath(path)

	if pending, ok := p.pendingRoots[canon]; ok && p.sys.FileExists(path) {
		if pending.handle != nil {
			pending.handle.Close()
		}
		delete(p.pendingRoots, canon)
		p.rootFiles = append(p.rootFiles, pending.original)
		p.rootsByPath[canon] = pending.original
		p.MarkAsDirty()
		return
	}

	if handle, ok := p.missingWatches[canon]; ok && p.sys.FileExists(path) {
		if handle != nil {
			handle.Close()
		}
		delete(p.missingWatches, canon)
		p.cache.InvalidateResolutionOfFile(path)
		p.MarkAsDirty()
		return
	}

	if kind == ports.FileDeleted {
		if _, ok := p.programSet[canon]; ok {
			p.cache.InvalidateResolutionOfFile(path)
			p.updatedSinceReport[canon] = true
			p.MarkAsDirty()
		}
		return
	}

	if _, ok := p.programSet[canon]; ok {
		p.updatedSinceReport[canon] = true
		p.MarkAsDirty()
	}
}

// MarkFileUpdated records an in-place content change (e.g. an open-buffer
// edit) for delta reporting and dirties the graph.
func (p *Project) MarkFileUpdated(path string) {
	if p.state == StateClosed {
		return
	}
	p.updatedSinceReport[p.sys.CanonicalPath(path)] = true
	p.MarkAsDirty()
}

// SetExternalFiles replaces the externally-required file list (files needed
// by collaborators but outside the checked program).
func (p *Project) SetExternalFiles(files []string) {
	if p.state == StateClosed {
		return
	}
	p.externalFiles = append([]string(nil), files...)
	p.MarkAsDirty()
}

// UpdateGraph brings the program up to date with the file system and root
// set. It returns true when the resulting file set is unchanged. The
// supplied context is checked by the builder between per-file units of
// work, never mid-resolution of a single name.
func (p *Project) UpdateGraph(ctx context.Context) (bool, error) {
	if p.state == StateClosed {
		return false, errors.New(errors.CodeClosedProject, "update graph on closed project")
	}
	if p.program != nil && p.stateVersion == p.lastBuiltVersion {
		return true, nil
	}

	start := time.Now()
	p.state = StateRebuilding

	p.cache.StartRecordingFilesWithChangedResolutions()
	p.cache.StartCachingPerDirectoryResolution()
	defer p.cache.FinishCachingPerDirectoryResolution()

	hasInvalidated := p.cache.CreateHasInvalidatedResolution()

	prog, err := p.builder.Build(ctx, ports.BuildRequest{
		RootFiles:                append([]string(nil), p.rootFiles...),
		Options:                  p.options,
		Resolver:                 p.cache,
		HasInvalidatedResolution: hasInvalidated,
		OldProgram:               p.program,
	})
	if err != nil {
		_ = p.cache.FinishRecordingFilesWithChangedResolutions()
		p.state = StateDirty
		return false, err
	}

	old := p.program
	oldSet := p.programSet
	p.program = prog
	p.programSet = make(map[string]string, len(prog.FileNames))
	for _, f := range prog.FileNames {
		p.programSet[p.sys.CanonicalPath(f)] = f
	}

	// Detach files no longer in the program.
	fileSetChanged := old == nil || len(oldSet) != len(p.programSet)
	for canon := range oldSet {
		if _, ok := p.programSet[canon]; !ok {
			p.cache.RemoveResolutionsOfFile(canon)
			delete(p.unresolvedByFile, canon)
			fileSetChanged = true
		}
	}

	// Derived per-file caches are dropped only where a resolution changed.
	changedFiles := p.cache.FinishRecordingFilesWithChangedResolutions()
	for _, f := range changedFiles {
		delete(p.unresolvedByFile, f)
		p.updatedSinceReport[f] = true
	}
	for canon := range p.programSet {
		if _, ok := p.unresolvedByFile[canon]; !ok {
			p.unresolvedByFile[canon] = lookupUnresolved(p.sys, prog, canon)
		}
	}

	p.reconcileMissingWatches(prog.MissingPaths)

	unresolvedChanged := p.refreshUnresolvedUnion()
	if fileSetChanged || unresolvedChanged {
		p.structureVersion++
	}

	p.stateVersion++
	p.lastBuiltVersion = p.stateVersion
	p.state = StateCurrent

	observability.UpdateGraphDuration.Observe(time.Since(start).Seconds())
	p.log.Info("graph updated",
		"project", p.name,
		"files", len(prog.FileNames),
		"missing", len(prog.MissingPaths),
		"changedResolutions", len(changedFiles),
		"structureVersion", p.structureVersion,
		"duration", time.Since(start),
	)

	return !fileSetChanged, nil
}

func lookupUnresolved(sys ports.System, prog *ports.Program, canon string) []string {
	if names, ok := prog.UnresolvedImports[canon]; ok {
		return names
	}
	for path, names := range prog.UnresolvedImports {
		if sys.CanonicalPath(path) == canon {
			return names
		}
	}
	return nil
}

func (p *Project) reconcileMissingWatches(missing []string) {
	wanted := make(map[string]string, len(missing))
	for _, m := range missing {
		wanted[p.sys.CanonicalPath(m)] = m
	}

	for canon, handle := range p.missingWatches {
		if _, ok := wanted[canon]; ok {
			continue
		}
		if handle != nil {
			handle.Close()
		}
		delete(p.missingWatches, canon)
	}

	for canon, original := range wanted {
		if _, ok := p.missingWatches[canon]; ok {
			continue
		}
		handle, err := p.sys.WatchFile(original, p.fileEventSink(canon))
		if err != nil {
			p.log.Warn("failed to watch missing file", "path", original, "error", err)
			handle = nil
		}
		p.missingWatches[canon] = handle
	}
}

func (p *Project) refreshUnresolvedUnion() bool {
	set := make(map[string]bool)
	for _, names := range p.unresolvedByFile {
		for _, n := range names {
			set[n] = true
		}
	}
	union := make([]string, 0, len(set))
	for n := range set {
		union = append(union, n)
	}
	sort.Strings(union)

	changed := len(union) != len(p.unresolvedUnion)
	if !changed {
		for i := range union {
			if union[i] != p.unresolvedUnion[i] {
				changed = true
				break
			}
		}
	}
	p.unresolvedUnion = union
	return changed
}

// GetScriptFileNames lists the current program files plus the external
// files that are not already part of the program.
func (p *Project) GetScriptFileNames() []string {
	if p.program == nil {
		return nil
	}
	out := append([]string(nil), p.program.FileNames...)
	for _, ext := range p.externalFiles {
		if _, ok := p.programSet[p.sys.CanonicalPath(ext)]; !ok {
			out = append(out, ext)
		}
	}
	return out
}

// Close tears the project down exactly once, releasing all caches and
// watches. Further graph operations are rejected cheaply.
func (p *Project) Close() {
	if p.state == StateClosed {
		return
	}
	for canon, handle := range p.missingWatches {
		if handle != nil {
			handle.Close()
		}
		delete(p.missingWatches, canon)
	}
	for canon, pending := range p.pendingRoots {
		if pending.handle != nil {
			pending.handle.Close()
		}
		delete(p.pendingRoots, canon)
	}
	p.cache.Clear()
	p.program = nil
	p.programSet = make(map[string]string)
	p.state = StateClosed
	p.log.Info("project closed", "project", p.name)
}
