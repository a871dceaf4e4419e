package loupe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loupe/internal/sym"
)

// Source is a symbol's span with its text read back from disk.
type Source struct {
	Symbol    *sym.Symbol `json:"symbol"`
	Path      string      `json:"path"`
	StartLine int         `json:"start_line"`
	EndLine   int         `json:"end_line"`
	Text      string      `json:"text"`
}

// Source reads the current on-disk text of the symbol matching query.
// The file may have drifted since indexing; the span is clamped to the
// file's current length rather than failing.
func (q *QueryBuilder) Source(query string) (*Source, error) {
	s, err := q.Symbol(query)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(q.engine.root, filepath.FromSlash(s.File)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.File, err)
	}
	lines := strings.Split(string(raw), "\n")

	start, end := s.StartLine, s.EndLine
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil, fmt.Errorf("symbol span %d-%d is outside %s (%d lines)", s.StartLine, s.EndLine, s.File, len(lines))
	}
	return &Source{
		Symbol:    s,
		Path:      s.File,
		StartLine: start,
		EndLine:   end,
		Text:      strings.Join(lines[start-1:end], "\n"),
	}, nil
}

// Context bundles a symbol with its immediate graph neighborhood.
type Context struct {
	Symbol   *sym.Symbol   `json:"symbol"`
	Callers  []CallEdge    `json:"callers,omitempty"`
	Callees  []CallEdge    `json:"callees,omitempty"`
	Siblings []*sym.Symbol `json:"siblings,omitempty"`
}

// Context assembles a one-hop view around the symbol matching query:
// direct callers, direct callees, and the other symbols in its file.
func (q *QueryBuilder) Context(query string) (*Context, error) {
	s, err := q.Symbol(query)
	if err != nil {
		return nil, err
	}
	callers, err := q.Callers(s.Hash)
	if err != nil {
		return nil, err
	}
	callees, err := q.Callees(s.Hash)
	if err != nil {
		return nil, err
	}
	siblings, err := q.FileSymbols(s.File)
	if err != nil {
		return nil, err
	}
	out := &Context{Symbol: s, Callers: callers, Callees: callees}
	for _, sib := range siblings {
		if sib.Hash != s.Hash {
			out.Siblings = append(out.Siblings, sib)
		}
	}
	return out, nil
}
