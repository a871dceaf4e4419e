// Package graph resolves references to definitions through scope-aware
// lookup and produces weighted caller→callee edges. Per-file results are
// pure; the cross-file join over qualified names happens in the index.
package graph

import (
	"sort"

	"loupe/internal/extract"
	"loupe/internal/lang"
	"loupe/internal/risk"
	"loupe/internal/sym"
)

// EdgeKey identifies a collapsed caller→callee edge by symbol hash.
type EdgeKey struct {
	Caller string
	Callee string
}

// ExternalRef is a call whose target lives outside the file: the caller's
// hash plus the qualified candidate name to join against the global
// qualified-name table. Unjoined candidates stay recorded as unresolved.
type ExternalRef struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

// FileResult is everything one file contributes to the repo index.
type FileResult struct {
	Path        string
	Language    string
	Module      string
	ContentHash string
	ParseError  bool

	Symbols      []*sym.Symbol
	SymbolHashes []string
	IntraEdges   map[EdgeKey]int
	ExternalRefs []ExternalRef

	// Unresolved counts references that matched nothing, including the
	// dynamically dispatched calls the index deliberately leaves alone.
	Unresolved int
}

// durable reports whether a definition survives into the index as a
// Symbol. Local variables, parameters, and import bindings are transient.
func durable(d *extract.Definition) bool {
	if !d.Kind.Durable() {
		return false
	}
	if d.Kind == sym.KindVariable {
		return d.Scope == 0
	}
	return true
}

// BuildFile assigns symbol identities, resolves references through the
// scope chain, and collapses resolved calls into weighted edges. Output
// is deterministic given identical input.
func BuildFile(f *extract.File, scorer risk.Scorer) *FileResult {
	res := &FileResult{
		Path:        f.Path,
		Language:    f.Language,
		Module:      f.Module,
		ContentHash: f.ContentHash,
		ParseError:  f.ParseError,
		IntraEdges:  make(map[EdgeKey]int),
	}

	// Pass 1: identity. defHash maps definition index → symbol hash for
	// durable definitions.
	defHash := make(map[int]string, len(f.Defs))
	symbols := make(map[string]*sym.Symbol)
	for i := range f.Defs {
		d := &f.Defs[i]
		if !durable(d) {
			continue
		}
		hash := sym.ComputeHash(d.Kind, d.Name, d.Signature, d.BodyTokens)
		defHash[i] = hash
		if _, seen := symbols[hash]; !seen {
			symbols[hash] = &sym.Symbol{
				Hash:          hash,
				QualifiedName: d.QualifiedName,
				Name:          d.Name,
				Kind:          d.Kind,
				Language:      f.Language,
				File:          f.Path,
				StartLine:     d.StartLine,
				EndLine:       d.EndLine,
				Visibility:    d.Visibility,
				Signature:     d.Signature,
				ClusterKey:    sym.ComputeClusterKey(d.Kind, d.Name, d.Signature, d.BodyTokens),
			}
			res.SymbolHashes = append(res.SymbolHashes, hash)
		}
	}

	// Pass 2: resolution. fanOut tracks distinct call targets per caller
	// for the risk scorer.
	external := make(map[ExternalRef]int)
	fanOut := make(map[string]map[string]bool)
	seeTarget := func(caller, target string) {
		set := fanOut[caller]
		if set == nil {
			set = make(map[string]bool)
			fanOut[caller] = set
		}
		set[target] = true
	}

	for _, ref := range f.Refs {
		if !ref.IsCall {
			// Plain reads participate in resolution statistics only.
			if _, _, found := resolve(f, &ref); !found {
				res.Unresolved++
			}
			continue
		}

		callerIdx := f.EnclosingDef(ref.StartByte)
		caller := ""
		if callerIdx >= 0 {
			caller = defHash[callerIdx]
		}

		targets, candidate, _ := resolve(f, &ref)
		switch {
		case len(targets) > 0:
			for _, ti := range targets {
				hash, ok := defHash[ti]
				if !ok {
					continue // resolved to a transient binding; no edge
				}
				if caller != "" {
					res.IntraEdges[EdgeKey{Caller: caller, Callee: hash}]++
				}
				seeTarget(caller, hash)
			}
		case candidate != "":
			if caller != "" {
				external[ExternalRef{Caller: caller, Name: candidate}]++
			}
			seeTarget(caller, candidate)
		default:
			res.Unresolved++
			seeTarget(caller, ref.Name)
		}
	}

	for er, n := range external {
		er.Count = n
		res.ExternalRefs = append(res.ExternalRefs, er)
	}

	// Pass 3: risk classification.
	for i := range f.Defs {
		d := &f.Defs[i]
		hash, ok := defHash[i]
		if !ok {
			continue
		}
		s := symbols[hash]
		s.RiskLevel = scorer.Score(s, risk.Signals{
			Branches:  d.Branches,
			FanOut:    len(fanOut[hash]),
			Mutations: d.Mutations,
		})
		res.Symbols = append(res.Symbols, s)
	}

	sort.Slice(res.ExternalRefs, func(i, j int) bool {
		a, b := res.ExternalRefs[i], res.ExternalRefs[j]
		if a.Caller != b.Caller {
			return a.Caller < b.Caller
		}
		return a.Name < b.Name
	})
	return res
}

// resolve walks the scope chain from the reference's containing scope
// outward, then consults the import table. It returns either definition
// indexes (local matches, possibly several for overload-like constructs),
// or a qualified candidate name for the cross-file join, or neither.
func resolve(f *extract.File, ref *extract.Reference) (targets []int, candidate string, found bool) {
	if ref.IsDynamic {
		// Dispatched through a value: a chained selector or a call
		// result. The bare method name must not bind to a same-named
		// function in scope.
		return nil, "", false
	}
	if ref.Qualifier != "" {
		return resolveQualified(f, ref)
	}

	for scope := ref.Scope; scope >= 0; scope = f.Scopes[scope].Parent {
		var matches []int
		var importTarget string
		for i := range f.Defs {
			d := &f.Defs[i]
			if d.Scope != scope || d.Name != ref.Name {
				continue
			}
			if ref.IsCall && !d.Kind.Callable() {
				continue
			}
			if d.Kind == sym.KindImport {
				importTarget = d.ImportTarget
				continue
			}
			matches = append(matches, i)
		}
		if len(matches) > 0 {
			return matches, "", true
		}
		if importTarget != "" {
			return nil, importTarget, true
		}
	}

	// Last resort: languages with shared module scope (Go packages) see
	// sibling files' module-level names without an import.
	if det, ok := lang.DetectorFor(f.Language); ok && det.SharesModuleScope() {
		return nil, f.Module + "." + ref.Name, true
	}
	return nil, "", false
}

// resolveQualified handles qualifier.name references: the qualifier must
// itself resolve to a module binding in the import table; anything else
// (a method call on a value) is dynamic dispatch and stays unresolved.
func resolveQualified(f *extract.File, ref *extract.Reference) (targets []int, candidate string, found bool) {
	for scope := ref.Scope; scope >= 0; scope = f.Scopes[scope].Parent {
		for i := range f.Defs {
			d := &f.Defs[i]
			if d.Scope != scope || d.Name != ref.Qualifier {
				continue
			}
			if d.Kind == sym.KindImport && d.IsModuleBinding {
				return nil, d.ImportTarget + "." + ref.Name, true
			}
			// The qualifier is shadowed by a closer non-module binding.
			return nil, "", false
		}
	}
	return nil, "", false
}
