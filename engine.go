package loupe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"loupe/internal/extract"
	"loupe/internal/graph"
	"loupe/internal/index"
	"loupe/internal/lang"
	"loupe/internal/risk"
)

// CacheDirName is where the on-disk index lives, relative to the repo root.
const CacheDirName = ".loupe"

// Engine orchestrates the pipeline for one repository: file discovery,
// change detection, parallel extraction, graph resolution, and snapshot
// commits. Index passes are serialized; each commit patches a clone of
// the current snapshot and swaps it in, so readers holding a snapshot
// keep a frozen view of the version they started from.
type Engine struct {
	root      string
	store     *index.Store
	cache     *extract.Cache
	scorer    risk.Scorer
	languages map[string]bool // nil means all languages
	workers   int
	log       *slog.Logger

	indexMu sync.Mutex // serializes index passes

	mu   sync.RWMutex
	snap *index.Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguages restricts which languages the Engine will process.
func WithLanguages(languages ...string) Option {
	return func(e *Engine) {
		e.languages = make(map[string]bool, len(languages))
		for _, l := range languages {
			e.languages[l] = true
		}
	}
}

// WithScorer replaces the default risk scorer.
func WithScorer(s risk.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithWorkers caps the extraction worker pool. Zero means NumCPU.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCacheSize sets the extraction LRU capacity in files.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		if c, err := extract.NewCache(n); err == nil {
			e.cache = c
		}
	}
}

// Open loads or creates the index for the repository at root. A corrupt
// on-disk cache is discarded and the engine starts empty; the next
// IndexAll rebuilds it.
func Open(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	e := &Engine{
		root:   abs,
		store:  index.NewStore(filepath.Join(abs, CacheDirName)),
		scorer: risk.Default(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache, err = extract.NewCache(extract.DefaultCacheSize)
		if err != nil {
			return nil, fmt.Errorf("extraction cache: %w", err)
		}
	}

	snap, err := e.store.Load()
	switch {
	case errors.Is(err, index.ErrNoCache):
		snap = index.NewSnapshot()
	case errors.Is(err, index.ErrCorrupt):
		e.log.Warn("discarding corrupt index cache", "dir", e.store.Dir, "err", err)
		snap = index.NewSnapshot()
	case err != nil:
		return nil, fmt.Errorf("load index: %w", err)
	}
	e.snap = snap
	return e, nil
}

// Root returns the absolute repository root.
func (e *Engine) Root() string { return e.root }

// Snapshot returns the current index state. The returned snapshot is
// never mutated; later index passes publish a fresh one.
func (e *Engine) Snapshot() *index.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Version returns the current index version.
func (e *Engine) Version() int64 {
	return e.Snapshot().Version
}

// Query returns a query builder over the current snapshot.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{engine: e}
}

// IndexStats summarizes one indexing pass.
type IndexStats struct {
	Scanned  int           `json:"scanned"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Removed  int           `json:"removed"`
	Failed   int           `json:"failed"`
	Version  int64         `json:"version"`
	Duration time.Duration `json:"duration"`
}

// IndexAll discovers every supported file under the root, indexes changed
// ones, and prunes records for files that no longer exist.
func (e *Engine) IndexAll(ctx context.Context) (*IndexStats, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	return e.indexAll(ctx)
}

func (e *Engine) indexAll(ctx context.Context) (*IndexStats, error) {
	paths, err := e.discover()
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	var deleted []string
	for p := range e.Snapshot().Files {
		if !present[p] {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)
	return e.index(ctx, paths, deleted)
}

// IndexFiles indexes the given paths, relative to the repository root or
// absolute. Paths that no longer exist are treated as deletions.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) (*IndexStats, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	var live, deleted []string
	for _, p := range paths {
		rel, err := e.relPath(p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(filepath.Join(e.root, rel)); os.IsNotExist(err) {
			deleted = append(deleted, rel)
			continue
		}
		live = append(live, rel)
	}
	return e.index(ctx, live, deleted)
}

// Rebuild drops the current index and re-extracts everything.
func (e *Engine) Rebuild(ctx context.Context) (*IndexStats, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	e.mu.Lock()
	e.snap = index.NewSnapshot()
	e.mu.Unlock()
	return e.indexAll(ctx)
}

// index runs the three-phase pipeline: serial preparation (language
// detection, hash short-circuit), parallel extraction and resolution,
// then a copy-on-write commit and save. Callers hold indexMu, so the
// snapshot read here is the one the commit clones.
func (e *Engine) index(ctx context.Context, paths, deleted []string) (*IndexStats, error) {
	start := time.Now()
	stats := &IndexStats{Scanned: len(paths), Removed: len(deleted)}
	snap := e.Snapshot()

	// Phase A: decide what actually needs work.
	type workItem struct {
		path string
		lang string
		src  []byte
		hash string
	}
	var items []workItem
	for _, p := range paths {
		langName, ok := lang.ForFile(p)
		if !ok {
			stats.Skipped++
			continue
		}
		if e.languages != nil && !e.languages[langName] {
			stats.Skipped++
			continue
		}
		src, err := os.ReadFile(filepath.Join(e.root, p))
		if err != nil {
			e.log.Warn("skipping unreadable file", "path", p, "err", err)
			stats.Failed++
			continue
		}
		hash := extract.ContentHash(src)
		if rec, ok := snap.Files[p]; ok && rec.ContentHash == hash {
			stats.Skipped++
			continue
		}
		items = append(items, workItem{path: p, lang: langName, src: src, hash: hash})
	}

	if len(items) == 0 && len(deleted) == 0 {
		stats.Version = snap.Version
		stats.Duration = time.Since(start)
		return stats, nil
	}

	// Phase B: parallel extraction. Each worker parses with its own
	// parser; results funnel to the commit phase.
	workers := e.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers < 1 {
		workers = 1
	}

	workCh := make(chan workItem, len(items))
	for _, it := range items {
		workCh <- it
	}
	close(workCh)

	type extracted struct {
		res *graph.FileResult
		err error
	}
	resCh := make(chan extracted, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range workCh {
				f, err := e.extractOne(ctx, it.path, it.hash, it.src)
				if err != nil {
					resCh <- extracted{err: fmt.Errorf("extract %s: %w", it.path, err)}
					continue
				}
				resCh <- extracted{res: graph.BuildFile(f, e.scorer)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resCh)
	}()

	var results []*graph.FileResult
	var errs []error
	for r := range resCh {
		if r.err != nil {
			errs = append(errs, r.err)
			stats.Failed++
			continue
		}
		results = append(results, r.res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	// Phase C: copy-on-write commit. The patch lands on a clone, gets
	// persisted, and becomes visible in a single swap; readers holding
	// the previous snapshot are never touched.
	next := snap.Clone()
	next.Apply(results, deleted)
	stats.Version = next.Version
	if err := e.store.Save(next); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	e.mu.Lock()
	e.snap = next
	e.mu.Unlock()

	stats.Indexed = len(results)
	stats.Duration = time.Since(start)
	e.log.Info("index pass complete",
		"indexed", stats.Indexed, "skipped", stats.Skipped,
		"removed", stats.Removed, "failed", stats.Failed,
		"version", stats.Version, "duration", stats.Duration)

	if len(errs) > 0 {
		return stats, fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return stats, nil
}

// extractOne produces the normalized extraction for one file, consulting
// the LRU first. Cached entries are keyed by path and content hash.
func (e *Engine) extractOne(ctx context.Context, path, hash string, src []byte) (*extract.File, error) {
	if f, ok := e.cache.Get(path, hash); ok {
		return f, nil
	}
	langName, _ := lang.ForFile(path)
	det, ok := lang.DetectorFor(langName)
	if !ok {
		return nil, fmt.Errorf("no detector for %q", langName)
	}
	f := extract.Extract(ctx, det, path, src)
	e.cache.Add(f)
	return f, nil
}

// relPath normalizes a path to slash-separated form relative to the root.
func (e *Engine) relPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(e.root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path %s is outside repository root", p)
		}
		return filepath.ToSlash(rel), nil
	}
	return filepath.ToSlash(filepath.Clean(p)), nil
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	CacheDirName:   true,
}

// discover lists supported files under the root, relative slash paths.
// Inside a git repository it uses git ls-files so .gitignore is honored
// exactly; otherwise it walks the tree and applies the root .gitignore
// itself, skipping hidden and dependency directories.
func (e *Engine) discover() ([]string, error) {
	paths, err := e.gitListFiles()
	if err != nil {
		paths, err = e.walkListFiles()
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (e *Engine) gitListFiles() ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = e.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := lang.ForFile(line); ok {
			paths = append(paths, filepath.ToSlash(line))
		}
	}
	return paths, nil
}

func (e *Engine) walkListFiles() ([]string, error) {
	var matcher *ignore.GitIgnore
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(e.root, ".gitignore")); err == nil {
		matcher = gi
	}

	var paths []string
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(e.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		if _, ok := lang.ForFile(rel); ok {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
