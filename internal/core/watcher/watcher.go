package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"relay/internal/core/ports"
	"relay/internal/shared/observability"
)

// Watcher multiplexes one fsnotify watcher across many file and directory
// subscriptions, each owned through an opaque handle. Callbacks run on the
// watcher goroutine after debouncing; subscribers must only enqueue.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration

	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob

	mu       sync.Mutex
	fileSubs map[string]map[string]*subscription
	dirSubs  map[string]map[string]*subscription
	osRefs   map[string]int
	closed   bool

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op
	timer     *time.Timer

	done chan struct{}
}

type subscription struct {
	id        string
	path      string // canonical
	recursive bool
	fileCB    ports.FileWatchCallback
	dirCB     ports.DirectoryWatchCallback

	// osPaths are the fsnotify registrations made on this subscription's
	// behalf, released together when the handle closes.
	osPaths []string
}

type handle struct {
	w    *Watcher
	sub  *subscription
	once sync.Once
}

func (h *handle) Close() {
	h.once.Do(func() {
		h.w.remove(h.sub)
	})
}

func NewWatcher(debounce time.Duration, excludeDirs, excludeFiles []string) (*Watcher, error) {
	compiledDirs := make([]glob.Glob, 0, len(excludeDirs))
	for _, pattern := range excludeDirs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		compiledDirs = append(compiledDirs, g)
	}

	compiledFiles := make([]glob.Glob, 0, len(excludeFiles))
	for _, pattern := range excludeFiles {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		compiledFiles = append(compiledFiles, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:          fsw,
		debounce:     debounce,
		excludeDirs:  compiledDirs,
		excludeFiles: compiledFiles,
		fileSubs:     make(map[string]map[string]*subscription),
		dirSubs:      make(map[string]map[string]*subscription),
		osRefs:       make(map[string]int),
		pending:      make(map[string]fsnotify.Op),
		done:         make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// WatchFile watches one path, existing or not, by registering its nearest
// existing ancestor directory and filtering events to the exact path.
func (w *Watcher) WatchFile(path string, cb ports.FileWatchCallback) (ports.WatchHandle, error) {
	canon := canonicalPath(path)
	sub := &subscription{id: uuid.NewString(), path: canon, fileCB: cb}

	anchor := nearestExistingDir(filepath.Dir(canon))
	if err := w.addOSPath(sub, anchor); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fileSubs[canon] == nil {
		w.fileSubs[canon] = make(map[string]*subscription)
	}
	w.fileSubs[canon][sub.id] = sub
	return &handle{w: w, sub: sub}, nil
}

// WatchDirectory watches path, recursively when asked. A missing directory
// is armed through its nearest existing ancestor so its later creation is
// still observed.
func (w *Watcher) WatchDirectory(path string, cb ports.DirectoryWatchCallback, recursive bool) (ports.WatchHandle, error) {
	canon := canonicalPath(path)
	sub := &subscription{id: uuid.NewString(), path: canon, recursive: recursive, dirCB: cb}

	if info, err := os.Stat(canon); err == nil && info.IsDir() {
		if err := w.addDirTree(sub, canon, recursive); err != nil {
			return nil, err
		}
	} else {
		anchor := nearestExistingDir(canon)
		if err := w.addOSPath(sub, anchor); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirSubs[canon] == nil {
		w.dirSubs[canon] = make(map[string]*subscription)
	}
	w.dirSubs[canon][sub.id] = sub
	return &handle{w: w, sub: sub}, nil
}

func (w *Watcher) addDirTree(sub *subscription, root string, recursive bool) error {
	if !recursive {
		return w.addOSPath(sub, root)
	}
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable subtree: degrade, do not fail the watch
		}
		if !info.IsDir() {
			return nil
		}
		if p != root && w.shouldExcludeDir(p) {
			return filepath.SkipDir
		}
		return w.addOSPath(sub, p)
	})
}

func (w *Watcher) addOSPath(sub *subscription, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.osRefs[path] == 0 {
		if err := w.fsw.Add(path); err != nil {
			return err
		}
	}
	w.osRefs[path]++
	sub.osPaths = append(sub.osPaths, path)
	return nil
}

func (w *Watcher) remove(sub *subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sub.fileCB != nil {
		if subs := w.fileSubs[sub.path]; subs != nil {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(w.fileSubs, sub.path)
			}
		}
	} else {
		if subs := w.dirSubs[sub.path]; subs != nil {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(w.dirSubs, sub.path)
			}
		}
	}

	for _, p := range sub.osPaths {
		w.osRefs[p]--
		if w.osRefs[p] <= 0 {
			delete(w.osRefs, p)
			if !w.closed {
				_ = w.fsw.Remove(p)
			}
		}
	}
	sub.osPaths = nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handleRawEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleRawEvent(event fsnotify.Event) {
	path := canonicalPath(event.Name)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.armCreatedDirectory(path)
		}
	}

	if w.shouldExcludeFile(path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.scheduleEvent(path, event.Op)
}

// armCreatedDirectory extends recursive subscriptions (and pending missing
// watches) to a directory that just appeared.
func (w *Watcher) armCreatedDirectory(dir string) {
	if w.shouldExcludeDir(dir) {
		return
	}

	w.mu.Lock()
	var extend []*subscription
	for subPath, subs := range w.dirSubs {
		for _, sub := range subs {
			if sub.recursive && isUnder(dir, subPath) {
				extend = append(extend, sub)
			} else if subPath == dir || isUnder(subPath, dir) {
				// A previously missing watch target (or its ancestor
				// chain) came into existence.
				extend = append(extend, sub)
			}
		}
	}
	w.mu.Unlock()

	for _, sub := range extend {
		target := dir
		if isUnder(sub.path, dir) {
			target = dir // watch the created ancestor; deeper creations re-arm
		}
		if err := w.addOSPath(sub, target); err != nil {
			slog.Warn("failed to watch created directory", "path", target, "error", err)
		}
	}
}

func (w *Watcher) scheduleEvent(path string, op fsnotify.Op) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] |= op

	if w.debounce <= 0 {
		pending := w.pending
		w.pending = make(map[string]fsnotify.Op)
		go w.dispatch(pending)
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	w.dispatch(pending)
}

func (w *Watcher) dispatch(pending map[string]fsnotify.Op) {
	for path, op := range pending {
		kind := ports.FileChanged
		switch {
		case op&(fsnotify.Remove|fsnotify.Rename) != 0:
			kind = ports.FileDeleted
		case op&fsnotify.Create != 0:
			kind = ports.FileCreated
		}

		w.mu.Lock()
		var fileCBs []ports.FileWatchCallback
		for _, sub := range w.fileSubs[path] {
			fileCBs = append(fileCBs, sub.fileCB)
		}
		var dirCBs []ports.DirectoryWatchCallback
		for subPath, subs := range w.dirSubs {
			for _, sub := range subs {
				switch {
				case path == subPath:
					dirCBs = append(dirCBs, sub.dirCB)
				case sub.recursive && isUnder(path, subPath):
					dirCBs = append(dirCBs, sub.dirCB)
				case !sub.recursive && filepath.Dir(path) == subPath:
					dirCBs = append(dirCBs, sub.dirCB)
				}
			}
		}
		w.mu.Unlock()

		for _, cb := range fileCBs {
			cb(path, kind)
		}
		for _, cb := range dirCBs {
			cb(path)
		}
	}
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) shouldExcludeFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, g := range w.excludeFiles {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	return w.fsw.Close()
}

func isUnder(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func nearestExistingDir(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}
