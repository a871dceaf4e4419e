// Package daemon serves the index over WebSocket and keeps registered
// repositories synchronized with the filesystem. Each repository has a
// single updater goroutine; queries read the engine's snapshot without
// blocking updates.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"loupe"
)

// Status describes how current a repository's index is.
type Status string

const (
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
	StatusStale    Status = "stale"
)

// Update notifies subscribers that a repository's index moved forward.
type Update struct {
	Repo         string   `json:"repo"`
	Version      int64    `json:"version"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

// Repo is one registered repository: its engine, watcher, and the
// subscriber set receiving index updates.
type Repo struct {
	Name string
	Root string

	engine *loupe.Engine
	log    *slog.Logger

	// updMu serializes engine writes between the watcher loop and
	// on-demand analysis, keeping one writer per repo.
	updMu sync.Mutex

	mu     sync.RWMutex
	status Status
	subs   map[chan Update]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Engine exposes the repo's engine for query dispatch.
func (r *Repo) Engine() *loupe.Engine { return r.engine }

// Status returns the repo's current index status.
func (r *Repo) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Repo) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Subscribe registers a channel for index updates. The returned cancel
// function closes the channel; any goroutine pumping it exits right
// away. Slow subscribers lose their oldest pending updates rather than
// stalling the updater.
func (r *Repo) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	r.mu.Lock()
	r.subs[ch] = true
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.subs[ch] {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// broadcast fans an update out, evicting a subscriber's oldest queued
// update when its buffer is full so a slow client always ends up on the
// newest version. Sends happen under the read lock, and cancellation
// closes channels under the write lock, so a send never hits a closed
// channel.
func (r *Repo) broadcast(u Update) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// updateLoop is the repo's single writer: it consumes debounced change
// batches from the watcher and applies them to the engine.
func (r *Repo) updateLoop(ctx context.Context, batches <-chan []string) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case paths, ok := <-batches:
			if !ok {
				return
			}
			r.setStatus(StatusBuilding)
			r.updMu.Lock()
			stats, err := r.engine.IndexFiles(ctx, paths)
			r.updMu.Unlock()
			if err != nil {
				r.log.Warn("incremental update failed", "repo", r.Name, "err", err)
				r.setStatus(StatusStale)
				continue
			}
			r.setStatus(StatusReady)
			r.broadcast(Update{Repo: r.Name, Version: stats.Version, ChangedFiles: paths})
		}
	}
}

// Analyze reindexes a working set on demand, sharing the update lock
// with the watcher loop so the query path never writes the engine
// concurrently with it. Subscribers hear about any version the analysis
// produced.
func (r *Repo) Analyze(ctx context.Context, paths []string) (*loupe.Analysis, error) {
	r.updMu.Lock()
	defer r.updMu.Unlock()
	before := r.engine.Version()
	report, err := r.engine.Analyze(ctx, paths)
	if err != nil {
		return nil, err
	}
	if report.Version > before {
		changed := make([]string, 0, len(report.Files))
		for _, fa := range report.Files {
			changed = append(changed, fa.Path)
		}
		r.broadcast(Update{Repo: r.Name, Version: report.Version, ChangedFiles: changed})
	}
	return report, nil
}

// Registry tracks registered repositories by name.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	repos map[string]*Repo
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, repos: make(map[string]*Repo)}
}

// Add opens the repository at root, brings its index up to date, and
// starts watching it for changes. The name must be unique.
func (reg *Registry) Add(ctx context.Context, name, root string, opts ...loupe.Option) (*Repo, error) {
	reg.mu.Lock()
	if _, exists := reg.repos[name]; exists {
		reg.mu.Unlock()
		return nil, fmt.Errorf("repo %q already registered", name)
	}
	reg.mu.Unlock()

	engine, err := loupe.Open(root, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", root, err)
	}

	repoCtx, cancel := context.WithCancel(ctx)
	r := &Repo{
		Name:   name,
		Root:   engine.Root(),
		engine: engine,
		log:    reg.log,
		status: StatusBuilding,
		subs:   make(map[chan Update]bool),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if _, err := engine.IndexAll(repoCtx); err != nil {
		reg.log.Warn("initial index had errors", "repo", name, "err", err)
	}
	r.setStatus(StatusReady)

	w, err := newWatcher(r.Root, reg.log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	go w.run(repoCtx)
	go r.updateLoop(repoCtx, w.Batches())

	reg.mu.Lock()
	reg.repos[name] = r
	reg.mu.Unlock()
	reg.log.Info("repo registered", "repo", name, "root", r.Root, "version", engine.Version())
	return r, nil
}

// Remove stops watching a repository and drops it from the registry.
func (reg *Registry) Remove(name string) error {
	reg.mu.Lock()
	r, ok := reg.repos[name]
	if ok {
		delete(reg.repos, name)
	}
	reg.mu.Unlock()
	if !ok {
		return fmt.Errorf("repo %q not registered", name)
	}
	r.cancel()
	<-r.done
	return nil
}

// Get looks up a repository by name.
func (reg *Registry) Get(name string) (*Repo, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.repos[name]
	return r, ok
}

// Names lists registered repositories.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.repos))
	for n := range reg.repos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
