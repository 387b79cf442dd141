package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relay/internal/core/ports"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	kinds []ports.FileWatchKind
}

func (r *recorder) fileCB(path string, kind ports.FileWatchKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.kinds = append(r.kinds, kind)
}

func (r *recorder) dirCB(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func (r *recorder) last() (string, ports.FileWatchKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return "", 0
	}
	kind := ports.FileWatchKind(0)
	if len(r.kinds) > 0 {
		kind = r.kinds[len(r.kinds)-1]
	}
	return r.paths[len(r.paths)-1], kind
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := NewWatcher(20*time.Millisecond, nil, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWatchFile_ChangeEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ts")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	w := newTestWatcher(t)
	rec := &recorder{}
	h, err := w.WatchFile(path, rec.fileCB)
	if err != nil {
		t.Fatalf("watch file: %v", err)
	}
	defer h.Close()

	if err := os.WriteFile(path, []byte("two"), 0o644); err != nil {
		t.Fatalf("modify file: %v", err)
	}

	waitFor(t, "change event", func() bool { return rec.count() > 0 })
	got, _ := rec.last()
	if got != canonicalPath(path) {
		t.Fatalf("expected event for %s, got %s", path, got)
	}
}

func TestWatchFile_MissingPathSeesCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending.ts")

	w := newTestWatcher(t)
	rec := &recorder{}
	h, err := w.WatchFile(path, rec.fileCB)
	if err != nil {
		t.Fatalf("watch missing file: %v", err)
	}
	defer h.Close()

	if err := os.WriteFile(path, []byte("born"), 0o644); err != nil {
		t.Fatalf("create file: %v", err)
	}

	waitFor(t, "creation event", func() bool { return rec.count() > 0 })
	_, kind := rec.last()
	if kind != ports.FileCreated {
		t.Fatalf("expected FileCreated, got %v", kind)
	}
}

func TestWatchFile_DeleteEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ts")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	w := newTestWatcher(t)
	rec := &recorder{}
	h, err := w.WatchFile(path, rec.fileCB)
	if err != nil {
		t.Fatalf("watch file: %v", err)
	}
	defer h.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	waitFor(t, "delete event", func() bool {
		_, kind := rec.last()
		return rec.count() > 0 && kind == ports.FileDeleted
	})
}

func TestWatchDirectory_ReceivesChildEvents(t *testing.T) {
	dir := t.TempDir()

	w := newTestWatcher(t)
	rec := &recorder{}
	h, err := w.WatchDirectory(dir, rec.dirCB, true)
	if err != nil {
		t.Fatalf("watch directory: %v", err)
	}
	defer h.Close()

	child := filepath.Join(dir, "b.ts")
	if err := os.WriteFile(child, []byte("x"), 0o644); err != nil {
		t.Fatalf("create child: %v", err)
	}

	waitFor(t, "child event", func() bool { return rec.count() > 0 })
	got, _ := rec.last()
	if got != canonicalPath(child) {
		t.Fatalf("expected event for %s, got %s", child, got)
	}
}

func TestWatchDirectory_MissingDirArmedOnCreation(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "node_modules")

	w := newTestWatcher(t)
	rec := &recorder{}
	h, err := w.WatchDirectory(target, rec.dirCB, true)
	if err != nil {
		t.Fatalf("watch missing directory: %v", err)
	}
	defer h.Close()

	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("create directory: %v", err)
	}

	waitFor(t, "directory creation event", func() bool { return rec.count() > 0 })
	got, _ := rec.last()
	if got != canonicalPath(target) {
		t.Fatalf("expected event for %s, got %s", target, got)
	}
}

func TestHandleClose_StopsDelivery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ts")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	w := newTestWatcher(t)
	rec := &recorder{}
	h, err := w.WatchFile(path, rec.fileCB)
	if err != nil {
		t.Fatalf("watch file: %v", err)
	}
	h.Close()
	h.Close() // closing twice is a no-op

	if err := os.WriteFile(path, []byte("y"), 0o644); err != nil {
		t.Fatalf("modify file: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("expected no events after Close, got %d", rec.count())
	}
}

func TestExcludeFiles_AreFiltered(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(20*time.Millisecond, nil, []string{"*.log"})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	rec := &recorder{}
	h, err := w.WatchDirectory(dir, rec.dirCB, false)
	if err != nil {
		t.Fatalf("watch directory: %v", err)
	}
	defer h.Close()

	if err := os.WriteFile(filepath.Join(dir, "noise.log"), []byte("x"), 0o644); err != nil {
		t.Fatalf("create excluded file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "code.ts"), []byte("x"), 0o644); err != nil {
		t.Fatalf("create watched file: %v", err)
	}

	waitFor(t, "non-excluded event", func() bool { return rec.count() > 0 })
	got, _ := rec.last()
	if filepath.Base(got) != "code.ts" {
		t.Fatalf("expected only code.ts events, got %s", got)
	}
}
