package loader

import (
	"path/filepath"
	"testing"

	"relay/internal/core/ports"
)

type fakeFS struct {
	files map[string]bool
}

func (f *fakeFS) FileExists(path string) bool { return f.files[filepath.Clean(path)] }

func (f *fakeFS) ReadFile(path string) (string, bool) {
	if f.files[filepath.Clean(path)] {
		return "", true
	}
	return "", false
}

func (f *fakeFS) DirectoryExists(path string) bool    { return false }
func (f *fakeFS) GetDirectories(path string) []string { return nil }
func (f *fakeFS) GetCurrentDirectory() string         { return "/" }

func newLoader(files ...string) *Loader {
	fs := &fakeFS{files: make(map[string]bool)}
	for _, f := range files {
		fs.files[f] = true
	}
	return New(fs, []string{".ts", ".d.ts"}, []string{"node_modules"})
}

func TestResolve_RelativeWithExtensionProbing(t *testing.T) {
	l := newLoader("/proj/src/b.ts")
	res := l.Resolve("./b", "/proj/src/a.ts", ports.CompilerOptions{BaseDir: "/proj"})
	if res.ResolvedPath != "/proj/src/b.ts" {
		t.Fatalf("expected /proj/src/b.ts, got %q", res.ResolvedPath)
	}
	if len(res.FailedLookupLocations) != 0 {
		t.Fatalf("expected no failed lookups, got %v", res.FailedLookupLocations)
	}
}

func TestResolve_RelativeIndexFallback(t *testing.T) {
	l := newLoader("/proj/src/lib/index.ts")
	res := l.Resolve("./lib", "/proj/src/a.ts", ports.CompilerOptions{BaseDir: "/proj"})
	if res.ResolvedPath != "/proj/src/lib/index.ts" {
		t.Fatalf("expected index fallback, got %q", res.ResolvedPath)
	}
	// The direct candidates were probed (and missed) first, in order.
	want := []string{"/proj/src/lib.ts", "/proj/src/lib.d.ts"}
	if len(res.FailedLookupLocations) != 2 || res.FailedLookupLocations[0] != want[0] || res.FailedLookupLocations[1] != want[1] {
		t.Fatalf("expected failed lookups %v, got %v", want, res.FailedLookupLocations)
	}
}

func TestResolve_BareNameWalksUpDependencyDirs(t *testing.T) {
	l := newLoader("/proj/node_modules/dep/index.ts")
	res := l.Resolve("dep", "/proj/src/deep/a.ts", ports.CompilerOptions{BaseDir: "/proj"})
	if res.ResolvedPath != "/proj/node_modules/dep/index.ts" {
		t.Fatalf("expected hoisted dependency, got %q", res.ResolvedPath)
	}
	// Every miss below the hit is reported, nearest directory first.
	if len(res.FailedLookupLocations) == 0 {
		t.Fatalf("expected failed lookups from nearer directories")
	}
	first := res.FailedLookupLocations[0]
	if first != "/proj/src/deep/node_modules/dep.ts" {
		t.Fatalf("expected probing to start next to the containing file, got %q", first)
	}
}

func TestResolve_BareNameStopsAtBaseDir(t *testing.T) {
	l := newLoader("/node_modules/dep/index.ts")
	res := l.Resolve("dep", "/proj/src/a.ts", ports.CompilerOptions{BaseDir: "/proj"})
	if res.ResolvedPath != "" {
		t.Fatalf("expected walk to stop at the base dir, resolved %q", res.ResolvedPath)
	}
	for _, loc := range res.FailedLookupLocations {
		if loc == "/node_modules/dep.ts" {
			t.Fatalf("expected no probing above the base dir, saw %q", loc)
		}
	}
}

func TestResolve_UnresolvedReportsAllCandidates(t *testing.T) {
	l := newLoader()
	res := l.Resolve("./missing", "/proj/a.ts", ports.CompilerOptions{BaseDir: "/proj"})
	if res.ResolvedPath != "" {
		t.Fatalf("expected unresolved, got %q", res.ResolvedPath)
	}
	want := []string{
		"/proj/missing.ts",
		"/proj/missing.d.ts",
		"/proj/missing/index.ts",
		"/proj/missing/index.d.ts",
	}
	if len(res.FailedLookupLocations) != len(want) {
		t.Fatalf("expected %d failed lookups, got %v", len(want), res.FailedLookupLocations)
	}
	for i, loc := range want {
		if res.FailedLookupLocations[i] != loc {
			t.Fatalf("failed lookup %d: expected %q, got %q", i, loc, res.FailedLookupLocations[i])
		}
	}
}

func TestResolve_NameWithExtensionProbedVerbatimFirst(t *testing.T) {
	l := newLoader("/proj/styles.css")
	res := l.Resolve("./styles.css", "/proj/a.ts", ports.CompilerOptions{BaseDir: "/proj"})
	if res.ResolvedPath != "/proj/styles.css" {
		t.Fatalf("expected verbatim probe to hit, got %q", res.ResolvedPath)
	}
}
