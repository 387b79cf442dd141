package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.ProjectRoot) == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.ProjectRoot = cwd
		} else {
			cfg.ProjectRoot = "."
		}
	}

	if cfg.Resolution.MaxPreciseInvalidationFiles <= 0 {
		cfg.Resolution.MaxPreciseInvalidationFiles = 256
	}
	if len(cfg.Resolution.DependencyDirs) == 0 {
		cfg.Resolution.DependencyDirs = []string{"node_modules", "vendor"}
	}
	if len(cfg.Resolution.KnownExtensions) == 0 {
		cfg.Resolution.KnownExtensions = []string{".ts", ".tsx", ".d.ts", ".js", ".jsx", ".json"}
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 250 * time.Millisecond
	}

	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 1024
	}

	if cfg.Rebuild.MaxPerSecond <= 0 {
		cfg.Rebuild.MaxPerSecond = 4
	}
	if cfg.Rebuild.Burst <= 0 {
		cfg.Rebuild.Burst = 1
	}

	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "relay-history.db"
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9090"
	}
}

func validate(cfg *Config) error {
	root := strings.TrimSpace(cfg.ProjectRoot)
	if root == "" {
		return fmt.Errorf("project_root must not be empty")
	}
	if abs, err := filepath.Abs(root); err == nil {
		cfg.ProjectRoot = filepath.Clean(abs)
	}

	for _, ext := range cfg.Resolution.KnownExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("known extension %q must start with a dot", ext)
		}
	}
	for _, dir := range cfg.Resolution.DependencyDirs {
		if strings.ContainsRune(dir, os.PathSeparator) || strings.Contains(dir, "/") {
			return fmt.Errorf("dependency dir %q must be a bare directory name", dir)
		}
	}

	seen := make(map[string]bool, len(cfg.RootFiles))
	for _, f := range cfg.RootFiles {
		name := strings.TrimSpace(f)
		if name == "" {
			return fmt.Errorf("root_files must not contain empty entries")
		}
		if seen[name] {
			return fmt.Errorf("root file %q listed twice", name)
		}
		seen[name] = true
	}

	return nil
}
