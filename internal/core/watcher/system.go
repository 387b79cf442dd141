package watcher

import (
	"os"

	"relay/internal/core/ports"
)

// System is the OS-backed host implementation of ports.System: synchronous
// filesystem probes plus the fsnotify watch surface.
type System struct {
	*Watcher
}

var _ ports.System = (*System)(nil)

func NewSystem(w *Watcher) *System {
	return &System{Watcher: w}
}

func (s *System) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *System) ReadFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *System) DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *System) GetDirectories(path string) []string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func (s *System) GetCurrentDirectory() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func (s *System) CanonicalPath(path string) string {
	return canonicalPath(path)
}
