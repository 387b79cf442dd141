package ports

import "context"

// FileWatchKind classifies a single file-level event delivered to a watch
// callback.
type FileWatchKind int

const (
	FileCreated FileWatchKind = iota
	FileChanged
	FileDeleted
)

// WatchHandle is an opaque, host-owned watch registration. Close releases
// the underlying OS resource; closing twice is a no-op.
type WatchHandle interface {
	Close()
}

type FileWatchCallback func(path string, kind FileWatchKind)

// DirectoryWatchCallback receives the path that changed under the watched
// directory, which may be the directory itself.
type DirectoryWatchCallback func(path string)

// FileSystem is the synchronous probe surface the host provides. All probes
// are assumed cheap; none of the cache or graph code blocks on I/O beyond
// these calls.
type FileSystem interface {
	FileExists(path string) bool
	ReadFile(path string) (string, bool)
	DirectoryExists(path string) bool
	GetDirectories(path string) []string
	GetCurrentDirectory() string
}

// Watcher registers interest in path changes. Registration failure is
// reported as an error and degrades to "not proactively watched"; it is
// never fatal to the caller.
type Watcher interface {
	WatchFile(path string, cb FileWatchCallback) (WatchHandle, error)
	WatchDirectory(path string, cb DirectoryWatchCallback, recursive bool) (WatchHandle, error)
}

// System bundles everything the engine needs from the host.
type System interface {
	FileSystem
	Watcher
	// CanonicalPath maps a path to the form used as a cache key. Two paths
	// naming the same file must canonicalize identically.
	CanonicalPath(path string) string
}

// CompilerOptions is the slice of build configuration the resolution layer
// cares about. The external program builder owns the rest.
type CompilerOptions struct {
	BaseDir   string
	TypeRoots []string
}

// LookupResult is the outcome of resolving one name from one containing
// file. An empty ResolvedPath is a valid, non-error "unresolved" outcome.
type LookupResult struct {
	ResolvedPath          string
	FailedLookupLocations []string
}

// Loader is the single per-name resolution primitive consumed by the cache.
type Loader interface {
	Resolve(name, containingFile string, opts CompilerOptions) LookupResult
}

// ResolvedModule is one entry of a resolve-many call, in input order.
type ResolvedModule struct {
	Resolved bool
	Path     string
}

// NameResolver is the resolve surface the cache exposes to the program
// builder during a rebuild pass.
type NameResolver interface {
	ResolveModuleNames(names []string, containingFile string, reusedNames []string, logChanges bool) []ResolvedModule
	ResolveTypeReferenceDirectives(names []string, containingFile string) []ResolvedModule
}

// Program is the builder's view of one consistent snapshot: the checked
// file set, paths referenced but absent on disk, and per-file unresolved
// import names.
type Program struct {
	FileNames         []string
	MissingPaths      []string
	UnresolvedImports map[string][]string
}

// BuildRequest carries everything the external builder needs for one pass.
// The builder must call the resolver for every name it encounters and check
// ctx between per-file units of work.
type BuildRequest struct {
	RootFiles                []string
	Options                  CompilerOptions
	Resolver                 NameResolver
	HasInvalidatedResolution func(path string) bool
	OldProgram               *Program
}

// ProgramBuilder is the external parser/checker collaborator.
type ProgramBuilder interface {
	Build(ctx context.Context, req BuildRequest) (*Program, error)
}
