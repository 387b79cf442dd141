package config

import "time"

type Config struct {
	Version       int           `toml:"version"`
	ProjectRoot   string        `toml:"project_root"`
	RootFiles     []string      `toml:"root_files"`
	ExternalFiles []string      `toml:"external_files"`
	Resolution    Resolution    `toml:"resolution"`
	Watch         Watch         `toml:"watch"`
	Exclude       Exclude       `toml:"exclude"`
	Queue         Queue         `toml:"queue"`
	Rebuild       Rebuild       `toml:"rebuild"`
	DB            Database      `toml:"db"`
	Observability Observability `toml:"observability"`
}

type Resolution struct {
	// MaxPreciseInvalidationFiles is the bookkeeping ceiling: once more
	// containing files than this hold cached resolutions, invalidation
	// degrades to "everything may be invalidated" instead of per-file
	// tracking.
	MaxPreciseInvalidationFiles int `toml:"max_precise_invalidation_files"`

	// DependencyDirs are directory names treated as shared dependency
	// roots for watch placement (a single watch covers every failed
	// lookup that traverses one).
	DependencyDirs []string `toml:"dependency_dirs"`

	// KnownExtensions are failed-lookup extensions covered by directory
	// watching alone; anything else is also tracked per-path.
	KnownExtensions []string `toml:"known_extensions"`

	TypeRoots []string `toml:"type_roots"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Queue struct {
	Capacity int `toml:"capacity"`
}

type Rebuild struct {
	// MaxPerSecond bounds how often dirty state may trigger a rebuild.
	MaxPerSecond float64 `toml:"max_per_second"`
	Burst        int     `toml:"burst"`
}

type Database struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type Observability struct {
	Address      string `toml:"address"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
