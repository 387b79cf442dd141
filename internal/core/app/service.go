package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"relay/internal/core/config"
	"relay/internal/core/errors"
	"relay/internal/core/ports"
	"relay/internal/data/history"
	"relay/internal/data/queue"
	"relay/internal/engine/builder"
	"relay/internal/engine/loader"
	"relay/internal/engine/project"
	"relay/internal/engine/resolution"
	"relay/internal/shared/observability"
	"relay/internal/shared/util"

	"go.opentelemetry.io/otel/trace"
)

const dequeueBatchSize = 256

// Service owns the single mutating goroutine. Watch callbacks enqueue
// notifications; Run drains them, applies invalidations, and rebuilds the
// project graph under a rate limit.
type Service struct {
	cfg     *config.Config
	sys     ports.System
	log     *slog.Logger
	queue   *queue.Queue
	cache   *resolution.Cache
	project *project.Project
	limiter *util.Limiter
	history *history.Store

	onUpdate        func(project.ChangeSet)
	reportedVersion int
	hasReported     bool

	pendingInvalidations int
	pendingFull          bool
	typeRootsPending     bool
}

type Options struct {
	Config  *config.Config
	System  ports.System
	Logger  *slog.Logger
	History *history.Store
}

func NewService(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.System == nil {
		return nil, fmt.Errorf("system is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cfg := opts.Config
	s := &Service{
		cfg:     cfg,
		sys:     opts.System,
		log:     log,
		queue:   queue.New(cfg.Queue.Capacity),
		limiter: util.NewLimiter(cfg.Rebuild.MaxPerSecond, cfg.Rebuild.Burst),
		history: opts.History,
	}

	compiler := ports.CompilerOptions{
		BaseDir:   cfg.ProjectRoot,
		TypeRoots: cfg.Resolution.TypeRoots,
	}

	res := loader.New(opts.System, cfg.Resolution.KnownExtensions, cfg.Resolution.DependencyDirs)

	s.cache = resolution.NewCache(resolution.Options{
		System:          opts.System,
		Loader:          res,
		Logger:          log,
		RootDir:         cfg.ProjectRoot,
		DependencyDirs:  cfg.Resolution.DependencyDirs,
		KnownExtensions: cfg.Resolution.KnownExtensions,
		MaxPreciseFiles: cfg.Resolution.MaxPreciseInvalidationFiles,
		Compiler:        compiler,
		OnDirectoryEvent: func(watchedDir, path string) {
			s.queue.Enqueue(queue.Notification{Kind: queue.KindDirectory, WatchedDir: watchedDir, Path: path})
		},
		OnTypeRootsChanged: func(path string) {
			s.queue.Enqueue(queue.Notification{Kind: queue.KindTypeRoots, Path: path})
		},
	})

	s.project = project.New(project.Options{
		Name:     cfg.ProjectRoot,
		System:   opts.System,
		Builder:  builder.New(opts.System),
		Cache:    s.cache,
		Compiler: compiler,
		Logger:   log,
		OnFileEvent: func(path string, kind ports.FileWatchKind) {
			s.queue.Enqueue(queue.Notification{Kind: queue.KindFile, Path: path, FileKind: kind})
		},
	})

	for _, root := range cfg.RootFiles {
		if err := s.project.AddRoot(root); err != nil {
			return nil, errors.AddContext(err, errors.CtxPath, root)
		}
	}
	if len(cfg.ExternalFiles) > 0 {
		s.project.SetExternalFiles(cfg.ExternalFiles)
	}
	s.cache.UpdateTypeRootsWatch()

	return s, nil
}

func (s *Service) Project() *project.Project { return s.project }
func (s *Service) Cache() *resolution.Cache  { return s.cache }
func (s *Service) Queue() *queue.Queue       { return s.queue }
func (s *Service) History() *history.Store   { return s.history }

// SetUpdateHandler registers the consumer of change sets produced after each
// rebuild. Must be set before Run.
func (s *Service) SetUpdateHandler(fn func(project.ChangeSet)) {
	s.onUpdate = fn
}

// UpdateOnce performs a single synchronous rebuild. Used by one-shot mode
// and as the initial build before Run starts consuming events.
func (s *Service) UpdateOnce(ctx context.Context) error {
	return s.rebuild(ctx)
}

// Run drains the notification queue until ctx is cancelled or the queue is
// closed. Every mutation of the cache and project happens here.
func (s *Service) Run(ctx context.Context) error {
	wait := s.cfg.Watch.Debounce
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	for {
		batch, err := s.queue.DequeueBatch(ctx, dequeueBatchSize, wait)
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}

		if s.queue.Overflowed() {
			s.log.Warn("notification queue overflowed, invalidating everything")
			s.cache.InvalidateEverything()
			s.pendingFull = true
			s.project.MarkAsDirty()
		}

		for _, n := range batch {
			s.handleNotification(n)
		}

		if s.project.State() == project.StateDirty {
			if !s.limiter.Allow(1) {
				continue
			}
			if err := s.rebuild(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Error("graph rebuild failed", "error", err)
			}
		}
	}
}

func (s *Service) handleNotification(n queue.Notification) {
	switch n.Kind {
	case queue.KindDirectory:
		if s.cache.InvalidateFromWatchEvent(n.WatchedDir, n.Path) {
			s.pendingInvalidations++
			s.project.MarkAsDirty()
		}
	case queue.KindFile:
		s.project.HandleWatchedFileEvent(n.Path, n.FileKind)
	case queue.KindTypeRoots:
		// Type-root churn can flip any type directive; precise matching is
		// not worth the bookkeeping at this event rate.
		s.cache.InvalidateEverything()
		s.pendingFull = true
		s.typeRootsPending = true
		s.project.MarkAsDirty()
	}
}

func (s *Service) rebuild(ctx context.Context) error {
	ctx, span := observability.Tracer.Start(ctx, "service.rebuild", trace.WithAttributes())
	defer span.End()

	start := time.Now()
	unchanged, err := s.project.UpdateGraph(ctx)
	if err != nil {
		return err
	}

	if s.typeRootsPending {
		s.cache.UpdateTypeRootsWatch()
		s.typeRootsPending = false
	}

	changes := s.currentChanges()
	s.reportedVersion = changes.Version
	s.hasReported = true

	if s.onUpdate != nil && (!unchanged || !changes.NoChanges()) {
		s.onUpdate(changes)
	}

	s.saveSnapshot(changes, time.Since(start))
	s.pendingInvalidations = 0
	s.pendingFull = false
	return nil
}

func (s *Service) currentChanges() project.ChangeSet {
	if !s.hasReported {
		return s.project.GetChangesSinceVersion(-1)
	}
	return s.project.GetChangesSinceVersion(s.reportedVersion)
}

func (s *Service) saveSnapshot(changes project.ChangeSet, duration time.Duration) {
	if s.history == nil {
		return
	}
	snapshot := history.Snapshot{
		ProjectKey:       s.cfg.ProjectRoot,
		Timestamp:        time.Now().UTC(),
		StateVersion:     s.project.StateVersion(),
		StructureVersion: s.project.StructureVersion(),
		FileCount:        len(s.project.GetScriptFileNames()),
		AddedCount:       len(changes.Added),
		RemovedCount:     len(changes.Removed),
		UpdatedCount:     len(changes.Updated),
		InvalidatedCount: s.pendingInvalidations,
		AllInvalidated:   s.pendingFull,
		Duration:         duration,
	}
	if err := s.history.SaveSnapshot(snapshot); err != nil {
		s.log.Warn("failed to save rebuild snapshot", "error", err)
	}
}

// Close releases the project, queue, and history store. Safe to call once
// Run has returned.
func (s *Service) Close(ctx context.Context) error {
	s.project.Close()
	_ = s.queue.Close()
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}
