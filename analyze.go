package loupe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"loupe/internal/sym"
)

// FileAnalysis is the risk report for one file in the working set.
type FileAnalysis struct {
	Path       string        `json:"path"`
	Language   string        `json:"language"`
	Deleted    bool          `json:"deleted,omitempty"`
	ParseError bool          `json:"parse_error,omitempty"`
	Symbols    []*sym.Symbol `json:"symbols,omitempty"`
}

// Analysis is the report for a whole working set.
type Analysis struct {
	Version int64          `json:"version"`
	Files   []FileAnalysis `json:"files"`
	ByRisk  map[string]int `json:"by_risk"`
}

// Analyze reindexes the given paths and reports their symbols with risk
// classifications. With no paths it analyzes the uncommitted working set
// reported by git status. The index is updated as a side effect, so the
// report always reflects current file content.
func (e *Engine) Analyze(ctx context.Context, paths []string) (*Analysis, error) {
	if len(paths) == 0 {
		var err error
		paths, err = e.uncommittedFiles()
		if err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return &Analysis{Version: e.Version(), ByRisk: map[string]int{}}, nil
	}

	if _, err := e.IndexFiles(ctx, paths); err != nil {
		return nil, err
	}

	snap := e.Snapshot()
	q := e.Query()
	out := &Analysis{Version: snap.Version, ByRisk: make(map[string]int)}
	for _, p := range paths {
		rel, err := e.relPath(p)
		if err != nil {
			return nil, err
		}
		rec, ok := snap.Files[rel]
		if !ok {
			out.Files = append(out.Files, FileAnalysis{Path: rel, Deleted: true})
			continue
		}
		symbols, err := q.FileSymbols(rel)
		if err != nil {
			return nil, err
		}
		fa := FileAnalysis{
			Path:       rel,
			Language:   rec.Language,
			ParseError: rec.ParseError,
			Symbols:    symbols,
		}
		for _, s := range symbols {
			if s.Kind == sym.KindFunction || s.Kind == sym.KindMethod {
				out.ByRisk[string(s.RiskLevel)]++
			}
		}
		out.Files = append(out.Files, fa)
	}
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	return out, nil
}

// uncommittedFiles lists modified, added, renamed, and deleted paths from
// git status porcelain output. Returns an error outside a git repo.
func (e *Engine) uncommittedFiles() ([]string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = e.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames show as "old -> new"; the new path is the live one.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if path == "" {
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}
