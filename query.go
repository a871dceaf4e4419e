package loupe

import (
	"fmt"
	"sort"
	"strings"

	"loupe/internal/index"
	"loupe/internal/sym"
)

// ErrSymbolNotFound reports a lookup that matched nothing.
var ErrSymbolNotFound = fmt.Errorf("symbol not found")

// AmbiguousError reports a lookup that matched several symbols. The
// candidates let a caller disambiguate by full hash.
type AmbiguousError struct {
	Query      string
	Candidates []*sym.Symbol
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("query %q matches %d symbols", e.Query, len(e.Candidates))
}

// QueryBuilder answers read queries against the engine's current
// snapshot. A builder is cheap; create one per request.
type QueryBuilder struct {
	engine *Engine
}

// CallEdge is a resolved caller→callee relationship with its call count.
type CallEdge struct {
	Caller *sym.Symbol `json:"caller"`
	Callee *sym.Symbol `json:"callee"`
	Count  int         `json:"count"`
}

// Symbol resolves a query string to exactly one symbol. The query may be
// a full hash ("ab12cd34:..."), a hash prefix, or a qualified name.
// Multiple matches return an AmbiguousError with candidates.
func (q *QueryBuilder) Symbol(query string) (*sym.Symbol, error) {
	snap := q.engine.Snapshot()

	if s, ok := snap.Symbols[query]; ok {
		return s, nil
	}
	if hashes := snap.HashesFor(query); len(hashes) > 0 {
		return q.pick(snap, query, hashes)
	}

	var hashes []string
	for h := range snap.Symbols {
		if sym.MatchesHash(query, h) {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrSymbolNotFound, query)
	}
	sort.Strings(hashes)
	return q.pick(snap, query, hashes)
}

func (q *QueryBuilder) pick(snap *index.Snapshot, query string, hashes []string) (*sym.Symbol, error) {
	if len(hashes) == 1 {
		return snap.Symbols[hashes[0]], nil
	}
	cands := make([]*sym.Symbol, 0, len(hashes))
	for _, h := range hashes {
		cands = append(cands, snap.Symbols[h])
	}
	return nil, &AmbiguousError{Query: query, Candidates: cands}
}

// Search returns up to limit symbols whose name or qualified name
// contains the term, case-insensitively. Exact name matches rank first,
// then name prefixes, then substrings; ties break on qualified name.
func (q *QueryBuilder) Search(term string, limit int) []*sym.Symbol {
	snap := q.engine.Snapshot()
	needle := strings.ToLower(term)

	type scored struct {
		s    *sym.Symbol
		rank int
	}
	var hits []scored
	for _, s := range snap.Symbols {
		name := strings.ToLower(s.Name)
		qname := strings.ToLower(s.QualifiedName)
		switch {
		case name == needle:
			hits = append(hits, scored{s, 0})
		case strings.HasPrefix(name, needle):
			hits = append(hits, scored{s, 1})
		case strings.Contains(name, needle):
			hits = append(hits, scored{s, 2})
		case strings.Contains(qname, needle):
			hits = append(hits, scored{s, 3})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		if hits[i].s.QualifiedName != hits[j].s.QualifiedName {
			return hits[i].s.QualifiedName < hits[j].s.QualifiedName
		}
		return hits[i].s.Hash < hits[j].s.Hash
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*sym.Symbol, len(hits))
	for i, h := range hits {
		out[i] = h.s
	}
	return out
}

// Callers returns edges whose callee is the given symbol, ordered by
// caller qualified name.
func (q *QueryBuilder) Callers(query string) ([]CallEdge, error) {
	return q.edgesAround(query, true)
}

// Callees returns edges whose caller is the given symbol.
func (q *QueryBuilder) Callees(query string) ([]CallEdge, error) {
	return q.edgesAround(query, false)
}

func (q *QueryBuilder) edgesAround(query string, reverse bool) ([]CallEdge, error) {
	target, err := q.Symbol(query)
	if err != nil {
		return nil, err
	}
	snap := q.engine.Snapshot()

	var out []CallEdge
	for k, n := range snap.Edges {
		var other string
		if reverse {
			if k.Callee != target.Hash {
				continue
			}
			other = k.Caller
		} else {
			if k.Caller != target.Hash {
				continue
			}
			other = k.Callee
		}
		os, ok := snap.Symbols[other]
		if !ok {
			continue
		}
		if reverse {
			out = append(out, CallEdge{Caller: os, Callee: target, Count: n})
		} else {
			out = append(out, CallEdge{Caller: target, Callee: os, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if reverse {
			return a.Caller.QualifiedName < b.Caller.QualifiedName
		}
		return a.Callee.QualifiedName < b.Callee.QualifiedName
	})
	return out, nil
}

// Overview aggregates index-wide statistics.
type Overview struct {
	Version    int64          `json:"version"`
	Files      int            `json:"files"`
	Symbols    int            `json:"symbols"`
	Edges      int            `json:"edges"`
	Unresolved int            `json:"unresolved"`
	ByLanguage map[string]int `json:"by_language"`
	ByKind     map[string]int `json:"by_kind"`
	ByRisk     map[string]int `json:"by_risk"`
	ParseFails []string       `json:"parse_failures,omitempty"`
}

// Overview summarizes the current snapshot.
func (q *QueryBuilder) Overview() *Overview {
	snap := q.engine.Snapshot()
	ov := &Overview{
		Version:    snap.Version,
		Files:      len(snap.Files),
		Symbols:    len(snap.Symbols),
		Edges:      len(snap.Edges),
		Unresolved: snap.Unresolved(),
		ByLanguage: make(map[string]int),
		ByKind:     make(map[string]int),
		ByRisk:     make(map[string]int),
	}
	for _, rec := range snap.Files {
		ov.ByLanguage[rec.Language]++
		if rec.ParseError {
			ov.ParseFails = append(ov.ParseFails, rec.Path)
		}
	}
	for _, s := range snap.Symbols {
		ov.ByKind[string(s.Kind)]++
		if s.Kind == sym.KindFunction || s.Kind == sym.KindMethod {
			ov.ByRisk[string(s.RiskLevel)]++
		}
	}
	sort.Strings(ov.ParseFails)
	return ov
}

// FileSymbols returns the symbols owned by one file, source order.
func (q *QueryBuilder) FileSymbols(path string) ([]*sym.Symbol, error) {
	snap := q.engine.Snapshot()
	rec, ok := snap.Files[path]
	if !ok {
		return nil, fmt.Errorf("file %s is not indexed", path)
	}
	var out []*sym.Symbol
	for _, h := range rec.SymbolHashes {
		if s, ok := snap.Symbols[h]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

// Duplicates groups symbols sharing a cluster key: same shape under
// different names. Only clusters with two or more members are returned.
func (q *QueryBuilder) Duplicates() [][]*sym.Symbol {
	snap := q.engine.Snapshot()
	byCluster := make(map[string][]*sym.Symbol)
	for _, s := range snap.Symbols {
		if s.Kind != sym.KindFunction && s.Kind != sym.KindMethod {
			continue
		}
		byCluster[s.ClusterKey] = append(byCluster[s.ClusterKey], s)
	}
	var out [][]*sym.Symbol
	for _, group := range byCluster {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Hash < group[j].Hash })
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].Hash < out[j][0].Hash })
	return out
}

// adjacency builds forward or reverse neighbor lists from the edge map.
func adjacency(snap *index.Snapshot, reverse bool) map[string][]string {
	adj := make(map[string][]string)
	for k := range snap.Edges {
		if reverse {
			adj[k.Callee] = append(adj[k.Callee], k.Caller)
		} else {
			adj[k.Caller] = append(adj[k.Caller], k.Callee)
		}
	}
	for _, ns := range adj {
		sort.Strings(ns)
	}
	return adj
}
