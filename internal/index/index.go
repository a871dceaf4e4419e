// Package index maintains the per-repo symbol and edge state. The
// snapshot is the single source of truth: per-file records are primary
// data, and all cross-file edges are a deterministic join of recorded
// external references against the qualified-name table. Incremental
// patches recompute only the contributions of affected files, so a
// sequence of patches always lands on the same snapshot a full rebuild
// would produce.
package index

import (
	"sort"

	"loupe/internal/graph"
	"loupe/internal/sym"
)

// Edge is a collapsed weighted caller→callee edge.
type Edge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Count  int    `json:"count"`
}

// FileRecord is everything the index remembers about one extracted file.
type FileRecord struct {
	Path         string              `json:"path"`
	Language     string              `json:"language"`
	Module       string              `json:"module"`
	ContentHash  string              `json:"content_hash"`
	ParseError   bool                `json:"parse_error,omitempty"`
	SymbolHashes []string            `json:"symbols"`
	IntraEdges   []Edge              `json:"intra_edges,omitempty"`
	ExternalRefs []graph.ExternalRef `json:"external_refs,omitempty"`
	Unresolved   int                 `json:"unresolved,omitempty"`
	Version      int64               `json:"version"`

	// Symbols are this file's own copies of the symbols it defines. A
	// shared symbol keeps per-owner span metadata here so deleting the
	// canonical file can re-point it at a surviving owner's copy.
	Symbols []*sym.Symbol `json:"symbol_meta,omitempty"`
}

// Snapshot is the full index state. Apply mutates a snapshot in place;
// the engine patches a private Clone and publishes it in one swap, so a
// snapshot handed to readers never changes underneath them.
type Snapshot struct {
	Version int64
	Files   map[string]*FileRecord
	Symbols map[string]*sym.Symbol
	Edges   map[graph.EdgeKey]int

	// Derived state, rebuilt on load and maintained by Apply.
	owners   map[string]map[string]bool // symbol hash → owning file paths
	byName   map[string][]string        // qualified name → symbol hashes
	refIndex map[string]map[string]bool // qualified name → referencing files
}

// NewSnapshot returns an empty index at version zero.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Files:    make(map[string]*FileRecord),
		Symbols:  make(map[string]*sym.Symbol),
		Edges:    make(map[graph.EdgeKey]int),
		owners:   make(map[string]map[string]bool),
		byName:   make(map[string][]string),
		refIndex: make(map[string]map[string]bool),
	}
}

// Clone returns an independent snapshot that Apply can mutate without
// disturbing this one. FileRecords and Symbols are shared: Apply never
// edits either in place, it installs fresh copies.
func (s *Snapshot) Clone() *Snapshot {
	n := &Snapshot{
		Version:  s.Version,
		Files:    make(map[string]*FileRecord, len(s.Files)),
		Symbols:  make(map[string]*sym.Symbol, len(s.Symbols)),
		Edges:    make(map[graph.EdgeKey]int, len(s.Edges)),
		owners:   make(map[string]map[string]bool, len(s.owners)),
		byName:   make(map[string][]string, len(s.byName)),
		refIndex: make(map[string]map[string]bool, len(s.refIndex)),
	}
	for p, rec := range s.Files {
		n.Files[p] = rec
	}
	for h, symb := range s.Symbols {
		n.Symbols[h] = symb
	}
	for k, c := range s.Edges {
		n.Edges[k] = c
	}
	for h, set := range s.owners {
		n.owners[h] = cloneSet(set)
	}
	for name, hs := range s.byName {
		n.byName[name] = append([]string(nil), hs...)
	}
	for name, set := range s.refIndex {
		n.refIndex[name] = cloneSet(set)
	}
	return n
}

func cloneSet(set map[string]bool) map[string]bool {
	cp := make(map[string]bool, len(set))
	for k := range set {
		cp[k] = true
	}
	return cp
}

// Apply folds a batch of changed files and deletions into the snapshot
// and bumps the version. Results carry fresh extraction output; deleted
// paths are removed entirely. Unchanged paths may appear in results (the
// engine filters by content hash first, but a redundant apply is a no-op
// for their contributions).
func (s *Snapshot) Apply(results []*graph.FileResult, deleted []string) {
	touched := make(map[string]bool, len(results)+len(deleted))
	for _, r := range results {
		touched[r.Path] = true
	}
	for _, p := range deleted {
		touched[p] = true
	}

	// Affected files: the touched set plus every file referencing a
	// qualified name whose hash set this patch may change.
	affected := make(map[string]bool, len(touched))
	for p := range touched {
		affected[p] = true
	}
	addReferrers := func(hash string) {
		symb, ok := s.Symbols[hash]
		if !ok {
			return
		}
		for p := range s.refIndex[symb.QualifiedName] {
			affected[p] = true
		}
	}
	for p := range touched {
		if old, ok := s.Files[p]; ok {
			for _, h := range old.SymbolHashes {
				addReferrers(h)
			}
		}
	}
	for _, r := range results {
		for _, symb := range r.Symbols {
			for p := range s.refIndex[symb.QualifiedName] {
				affected[p] = true
			}
		}
	}

	// Subtract the old contribution of every affected file, using the
	// qualified-name table as it stood before the patch.
	for p := range affected {
		old, ok := s.Files[p]
		if !ok {
			continue
		}
		if touched[p] {
			s.subtractIntra(old)
		}
		s.subtractCross(old)
	}

	// Retire symbols and records of the touched set.
	for p := range touched {
		old, ok := s.Files[p]
		if !ok {
			continue
		}
		for _, h := range old.SymbolHashes {
			s.dropOwner(h, p)
		}
		for _, er := range old.ExternalRefs {
			s.dropRef(er.Name, p)
		}
		delete(s.Files, p)
	}

	s.Version++

	// Install the new records and symbols.
	for _, r := range results {
		rec := &FileRecord{
			Path:         r.Path,
			Language:     r.Language,
			Module:       r.Module,
			ContentHash:  r.ContentHash,
			ParseError:   r.ParseError,
			SymbolHashes: r.SymbolHashes,
			ExternalRefs: r.ExternalRefs,
			Unresolved:   r.Unresolved,
			Version:      s.Version,
			Symbols:      r.Symbols,
		}
		for k, n := range r.IntraEdges {
			rec.IntraEdges = append(rec.IntraEdges, Edge{Caller: k.Caller, Callee: k.Callee, Count: n})
		}
		sort.Slice(rec.IntraEdges, func(i, j int) bool {
			a, b := rec.IntraEdges[i], rec.IntraEdges[j]
			if a.Caller != b.Caller {
				return a.Caller < b.Caller
			}
			return a.Callee < b.Callee
		})
		s.Files[r.Path] = rec
		for _, symb := range r.Symbols {
			s.addOwner(symb, r.Path)
		}
		for _, er := range r.ExternalRefs {
			s.addRef(er.Name, r.Path)
		}
	}

	// Re-add contributions of every affected file that still exists,
	// against the updated qualified-name table.
	for p := range affected {
		rec, ok := s.Files[p]
		if !ok {
			continue
		}
		if touched[p] {
			s.addIntra(rec)
		}
		s.addCross(rec)
	}
}

// Unresolved sums the unresolved reference counts across all files.
func (s *Snapshot) Unresolved() int {
	n := 0
	for _, rec := range s.Files {
		n += rec.Unresolved
		for _, er := range rec.ExternalRefs {
			if len(s.byName[er.Name]) == 0 {
				n += er.Count
			}
		}
	}
	return n
}

// HashesFor returns the symbol hashes bound to a qualified name. The
// returned slice is shared; callers must not mutate it.
func (s *Snapshot) HashesFor(qualifiedName string) []string {
	return s.byName[qualifiedName]
}

func (s *Snapshot) subtractIntra(rec *FileRecord) {
	for _, e := range rec.IntraEdges {
		s.bump(graph.EdgeKey{Caller: e.Caller, Callee: e.Callee}, -e.Count)
	}
}

func (s *Snapshot) addIntra(rec *FileRecord) {
	for _, e := range rec.IntraEdges {
		s.bump(graph.EdgeKey{Caller: e.Caller, Callee: e.Callee}, e.Count)
	}
}

func (s *Snapshot) subtractCross(rec *FileRecord) {
	for _, er := range rec.ExternalRefs {
		for _, h := range s.byName[er.Name] {
			s.bump(graph.EdgeKey{Caller: er.Caller, Callee: h}, -er.Count)
		}
	}
}

func (s *Snapshot) addCross(rec *FileRecord) {
	for _, er := range rec.ExternalRefs {
		for _, h := range s.byName[er.Name] {
			s.bump(graph.EdgeKey{Caller: er.Caller, Callee: h}, er.Count)
		}
	}
}

func (s *Snapshot) bump(k graph.EdgeKey, delta int) {
	n := s.Edges[k] + delta
	if n <= 0 {
		delete(s.Edges, k)
		return
	}
	s.Edges[k] = n
}

// addOwner registers a file as an owner of a symbol. The canonical File
// on the symbol is the lexicographically smallest owning path, so the
// choice never depends on processing order.
func (s *Snapshot) addOwner(symb *sym.Symbol, path string) {
	set := s.owners[symb.Hash]
	if set == nil {
		set = make(map[string]bool)
		s.owners[symb.Hash] = set
		cp := *symb
		s.Symbols[symb.Hash] = &cp
		s.bindName(symb.QualifiedName, symb.Hash)
	}
	set[path] = true
	cur := s.Symbols[symb.Hash]
	if path < cur.File {
		cp := *symb
		cp.File = path
		s.Symbols[symb.Hash] = &cp
	}
}

func (s *Snapshot) dropOwner(hash, path string) {
	set := s.owners[hash]
	if set == nil {
		return
	}
	delete(set, path)
	if len(set) == 0 {
		symb := s.Symbols[hash]
		delete(s.owners, hash)
		delete(s.Symbols, hash)
		if symb != nil {
			s.unbindName(symb.QualifiedName, hash)
		}
		return
	}
	cur := s.Symbols[hash]
	if cur.File == path {
		min := ""
		for p := range set {
			if min == "" || p < min {
				min = p
			}
		}
		// Re-point at the surviving owner's own copy so spans describe
		// the file the symbol now reports, not the deleted one.
		if oc := s.ownerCopy(hash, min); oc != nil {
			cp := *oc
			cp.File = min
			s.Symbols[hash] = &cp
			return
		}
		cp := *cur
		cp.File = min
		s.Symbols[hash] = &cp
	}
}

// ownerCopy finds a file's own recorded copy of a symbol it defines.
func (s *Snapshot) ownerCopy(hash, path string) *sym.Symbol {
	rec, ok := s.Files[path]
	if !ok {
		return nil
	}
	for _, symb := range rec.Symbols {
		if symb.Hash == hash {
			return symb
		}
	}
	return nil
}

func (s *Snapshot) bindName(name, hash string) {
	hs := s.byName[name]
	for _, h := range hs {
		if h == hash {
			return
		}
	}
	hs = append(hs, hash)
	sort.Strings(hs)
	s.byName[name] = hs
}

func (s *Snapshot) unbindName(name, hash string) {
	hs := s.byName[name]
	for i, h := range hs {
		if h == hash {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(s.byName, name)
		return
	}
	s.byName[name] = hs
}

func (s *Snapshot) addRef(name, path string) {
	set := s.refIndex[name]
	if set == nil {
		set = make(map[string]bool)
		s.refIndex[name] = set
	}
	set[path] = true
}

func (s *Snapshot) dropRef(name, path string) {
	set := s.refIndex[name]
	if set == nil {
		return
	}
	delete(set, path)
	if len(set) == 0 {
		delete(s.refIndex, name)
	}
}

// rebuildDerived reconstructs owners, byName, refIndex, and Edges from
// the file records and symbol table after a load from disk.
func (s *Snapshot) rebuildDerived() {
	s.owners = make(map[string]map[string]bool)
	s.byName = make(map[string][]string)
	s.refIndex = make(map[string]map[string]bool)
	s.Edges = make(map[graph.EdgeKey]int)

	for path, rec := range s.Files {
		for _, h := range rec.SymbolHashes {
			set := s.owners[h]
			if set == nil {
				set = make(map[string]bool)
				s.owners[h] = set
			}
			set[path] = true
		}
		for _, er := range rec.ExternalRefs {
			s.addRef(er.Name, path)
		}
	}
	for h, symb := range s.Symbols {
		s.bindName(symb.QualifiedName, h)
	}
	for _, rec := range s.Files {
		s.addIntra(rec)
		s.addCross(rec)
	}
}
