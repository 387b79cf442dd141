package resolution

import (
	"fmt"
	"testing"

	"relay/internal/core/ports"
)

func TestInvalidateResolutionOfFile_TargetsOnlyMatchingRecords(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"dep":   {ResolvedPath: "/proj/node_modules/dep/index.ts"},
		"other": {ResolvedPath: "/proj/src/other.ts"},
	}}
	c := newTestCache(sys, ld, 0)

	c.ResolveModuleNames([]string{"dep"}, "/proj/a.ts", nil, false)
	c.ResolveModuleNames([]string{"dep"}, "/proj/b.ts", nil, false)
	c.ResolveModuleNames([]string{"other"}, "/proj/c.ts", nil, false)

	c.InvalidateResolutionOfFile("/proj/node_modules/dep/index.ts")

	has := c.CreateHasInvalidatedResolution()
	if !has("/proj/a.ts") || !has("/proj/b.ts") {
		t.Fatalf("expected files resolving to the deleted target to be invalidated")
	}
	if has("/proj/c.ts") {
		t.Fatalf("expected unrelated file to stay valid")
	}
}

func TestInvalidateResolutionOfFile_PurgesOwnEntries(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"dep": {ResolvedPath: "/proj/node_modules/dep/index.ts"},
	}}
	c := newTestCache(sys, ld, 0)

	c.ResolveModuleNames([]string{"dep"}, "/proj/a.ts", nil, false)
	if got := c.ContainingFileCount(); got != 1 {
		t.Fatalf("expected 1 containing file, got %d", got)
	}
	c.InvalidateResolutionOfFile("/proj/a.ts")
	if got := c.ContainingFileCount(); got != 0 {
		t.Fatalf("expected a.ts's own resolutions purged, got %d containing files", got)
	}
}

func TestInvalidateFromWatchEvent_ExactFailedLookupMatch(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"./b": {FailedLookupLocations: []string{"/proj/b.ts", "/proj/b/index.ts"}},
	}}
	c := newTestCache(sys, ld, 0)

	c.ResolveModuleNames([]string{"./b"}, "/proj/a.ts", nil, false)

	if c.InvalidateFromWatchEvent("/proj", "/proj/unrelated.ts") {
		t.Fatalf("expected no invalidation for a path outside the failed lookups")
	}
	if !c.InvalidateFromWatchEvent("/proj", "/proj/b.ts") {
		t.Fatalf("expected invalidation on failed-lookup creation")
	}
	has := c.CreateHasInvalidatedResolution()
	if !has("/proj/a.ts") {
		t.Fatalf("expected a.ts to be marked for re-resolution")
	}
}

func TestInvalidateFromWatchEvent_DirectoryCreationCoversSubtree(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"dep": {FailedLookupLocations: []string{"/proj/node_modules/dep/index.ts"}},
	}}
	c := newTestCache(sys, ld, 0)

	c.ResolveModuleNames([]string{"dep"}, "/proj/a.ts", nil, false)

	// A created directory can satisfy any failed lookup nested under it.
	sys.dirs["/proj/node_modules/dep"] = true
	if !c.InvalidateFromWatchEvent("/proj", "/proj/node_modules/dep") {
		t.Fatalf("expected directory creation to invalidate nested failed lookups")
	}
}

func TestInvalidateFromWatchEvent_UnknownExtensionNeedsCustomTracking(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"./data.bin": {FailedLookupLocations: []string{"/proj/data.bin"}},
		"./b":        {FailedLookupLocations: []string{"/proj/b.ts"}},
	}}
	c := newTestCache(sys, ld, 0)

	c.ResolveModuleNames([]string{"./data.bin", "./b"}, "/proj/a.ts", nil, false)

	// Tracked unknown-extension path invalidates; an untracked one is noise.
	if !c.InvalidateFromWatchEvent("/proj", "/proj/data.bin") {
		t.Fatalf("expected tracked custom path to invalidate")
	}
	if c.InvalidateFromWatchEvent("/proj", "/proj/other.bin") {
		t.Fatalf("expected untracked unknown-extension path to be ignored")
	}
}

func TestInvalidation_CeilingDegradesToFull(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"dep": {ResolvedPath: "/proj/node_modules/dep/index.ts"},
	}}
	c := newTestCache(sys, ld, 2)

	for i := 0; i < 3; i++ {
		c.ResolveModuleNames([]string{"dep"}, fmt.Sprintf("/proj/f%d.ts", i), nil, false)
	}

	c.InvalidateResolutionOfFile("/proj/whatever.ts")

	has := c.CreateHasInvalidatedResolution()
	if !has("/never/seen.ts") {
		t.Fatalf("expected the degraded predicate to answer true for every path")
	}

	// The degraded flag is consumed by the snapshot.
	again := c.CreateHasInvalidatedResolution()
	if again("/never/seen.ts") {
		t.Fatalf("expected a fresh predicate after the snapshot reset")
	}
}

func TestInvalidation_FullInvalidationStalesCachedRecords(t *testing.T) {
	sys := newFakeSystem()
	ld := &fakeLoader{byName: map[string]ports.LookupResult{
		"dep": {ResolvedPath: "/proj/node_modules/dep/index.ts"},
	}}
	c := newTestCache(sys, ld, 0)

	c.ResolveModuleNames([]string{"dep"}, "/proj/a.ts", nil, false)
	c.InvalidateEverything()
	c.ResolveModuleNames([]string{"dep"}, "/proj/a.ts", nil, false)
	if ld.calls != 2 {
		t.Fatalf("expected full invalidation to force a reload, got %d loader calls", ld.calls)
	}
}

func TestCreateHasInvalidatedResolution_EmptyIsAlwaysFalse(t *testing.T) {
	sys := newFakeSystem()
	c := newTestCache(sys, &fakeLoader{}, 0)

	has := c.CreateHasInvalidatedResolution()
	if has("/proj/a.ts") {
		t.Fatalf("expected no invalidations to be reported")
	}
}

func TestUpdateTypeRootsWatch_SignalsThroughDistinctCallback(t *testing.T) {
	sys := newFakeSystem()
	var dirEvents, typeRootEvents int
	c := NewCache(Options{
		System:          sys,
		Loader:          &fakeLoader{},
		Logger:          quietLogger(),
		RootDir:         "/proj",
		DependencyDirs:  []string{"node_modules"},
		KnownExtensions: []string{".ts"},
		OnDirectoryEvent: func(watchedDir, path string) {
			dirEvents++
		},
		OnTypeRootsChanged: func(path string) {
			typeRootEvents++
		},
	})

	c.UpdateTypeRootsWatch()
	sys.fireDir("/proj/node_modules/@types", "/proj/node_modules/@types/node")
	if typeRootEvents != 1 || dirEvents != 0 {
		t.Fatalf("expected one type-roots signal, got typeRoots=%d dir=%d", typeRootEvents, dirEvents)
	}

	c.CloseTypeRootsWatch()
	sys.fireDir("/proj/node_modules/@types", "/proj/node_modules/@types/react")
	if typeRootEvents != 1 {
		t.Fatalf("expected no signals after CloseTypeRootsWatch, got %d", typeRootEvents)
	}
}
