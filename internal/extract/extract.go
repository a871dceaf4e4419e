// Package extract normalizes a detector's raw capture stream into the
// canonical per-file model: a flat scope arena plus definition, reference,
// and import lists with identical shape across languages.
package extract

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"loupe/internal/lang"
	"loupe/internal/sym"
)

// Scope is one node of the per-file scope tree, stored in a flat arena and
// addressed by index. Parent is -1 for the module root.
type Scope struct {
	Kind      lang.ScopeKind
	Parent    int
	StartByte uint32
	EndByte   uint32
	StartLine int
	EndLine   int

	// Owner indexes the definition whose node created this scope, or -1.
	Owner int
}

// Definition binds a name to a prospective symbol inside a scope.
type Definition struct {
	Name          string
	Kind          sym.Kind
	Scope         int
	QualifiedName string
	StartLine     int
	EndLine       int
	StartByte     uint32
	EndByte       uint32
	NameByte      uint32
	Signature     string
	BodyTokens    []string
	Visibility    sym.Visibility
	Branches      int
	Mutations     int

	// ImportTarget is the qualified candidate an import binding stands
	// for: "module" for module bindings, "module.member" otherwise.
	// Empty for non-import definitions.
	ImportTarget    string
	IsModuleBinding bool
}

// Reference is one name use inside a scope. IsDynamic marks a call
// dispatched through a value; resolution leaves those alone.
type Reference struct {
	Name      string
	Qualifier string
	Scope     int
	Line      int
	StartByte uint32
	IsCall    bool
	IsDynamic bool
}

// File is the normalized extraction result for one file. Scope,
// Definition, and Reference data are transient: rebuilt wholesale on every
// re-extraction and discarded after the index patch.
type File struct {
	Path        string
	Language    string
	Module      string
	ContentHash string
	Scopes      []Scope
	Defs        []Definition
	Refs        []Reference
	Imports     []lang.ImportCapture

	// ParseError marks a file whose grammar failed; whatever was
	// recoverable is still present.
	ParseError bool
}

// ContentHash is the change-detection digest over raw file bytes. It is
// unrelated to per-symbol hashes.
func ContentHash(src []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(src))
}

// Extract runs one detector over one file and normalizes the result.
// Capture ordering from the detector is not assumed sorted; scopes are
// arranged in nesting order here. A parse failure yields a partial File
// tagged ParseError instead of an error.
func Extract(ctx context.Context, det lang.Detector, path string, src []byte) *File {
	f := &File{
		Path:        path,
		Language:    det.Language(),
		ContentHash: ContentHash(src),
	}

	pr, err := det.Parse(ctx, src)
	if err != nil {
		f.ParseError = true
		f.Module = det.ModuleName(path)
		f.Scopes = []Scope{moduleScope(src)}
		return f
	}
	defer pr.Close()

	if pr.Root().HasError() {
		f.ParseError = true
	}

	defs := det.ExtractDefinitions(pr)
	refs := det.ExtractReferences(pr)
	scopes := det.ExtractScopes(pr)
	f.Imports = det.ExtractImports(pr)

	f.buildScopes(scopes, src)
	f.placeDefinitions(defs)
	f.Module = f.moduleName(det, path)
	f.attachImports()
	f.qualifyDefinitions()
	f.placeReferences(refs)
	return f
}

func moduleScope(src []byte) Scope {
	lines := strings.Count(string(src), "\n") + 1
	return Scope{
		Kind:      lang.ScopeModule,
		Parent:    -1,
		StartByte: 0,
		EndByte:   uint32(len(src)),
		StartLine: 1,
		EndLine:   lines,
		Owner:     -1,
	}
}

// buildScopes arranges scope captures into the arena in nesting order:
// outer scopes first, each child holding its parent's index. The input
// order is irrelevant; sorting by (start asc, end desc) makes a pre-order
// traversal, and a stack assigns parents.
func (f *File) buildScopes(captures []lang.ScopeCapture, src []byte) {
	sort.Slice(captures, func(i, j int) bool {
		if captures[i].StartByte != captures[j].StartByte {
			return captures[i].StartByte < captures[j].StartByte
		}
		return captures[i].EndByte > captures[j].EndByte
	})

	f.Scopes = []Scope{moduleScope(src)}
	stack := []int{0}

	for _, c := range captures {
		for len(stack) > 1 {
			top := f.Scopes[stack[len(stack)-1]]
			if c.StartByte >= top.StartByte && c.EndByte <= top.EndByte {
				break
			}
			stack = stack[:len(stack)-1]
		}
		// Skip duplicates of an identical span already on the stack.
		top := f.Scopes[stack[len(stack)-1]]
		if top.StartByte == c.StartByte && top.EndByte == c.EndByte && top.Kind == c.Kind {
			continue
		}
		f.Scopes = append(f.Scopes, Scope{
			Kind:      c.Kind,
			Parent:    stack[len(stack)-1],
			StartByte: c.StartByte,
			EndByte:   c.EndByte,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Owner:     -1,
		})
		stack = append(stack, len(f.Scopes)-1)
	}
}

// scopeAt returns the deepest scope containing the byte offset. The arena
// is in pre-order, so the last containing scope is the deepest.
func (f *File) scopeAt(b uint32) int {
	best := 0
	for i, s := range f.Scopes {
		if s.StartByte <= b && b < s.EndByte {
			best = i
		}
	}
	return best
}

// placeDefinitions assigns each definition to its binding scope and
// reclassifies functions nested in type scopes as methods. A definition
// whose own node created a scope binds in that scope's parent (the name is
// visible outside); parameters bind inside.
func (f *File) placeDefinitions(defs []lang.DefCapture) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].StartByte < defs[j].StartByte })

	for _, d := range defs {
		scope := f.scopeAt(d.NameByte)
		if d.Kind != sym.KindParameter {
			// Bubble out of the scope the definition itself opened.
			for scope > 0 {
				s := f.Scopes[scope]
				if s.StartByte >= d.StartByte && s.EndByte <= d.EndByte {
					scope = s.Parent
					continue
				}
				break
			}
		}

		kind := d.Kind
		if kind == sym.KindFunction && f.Scopes[scope].Kind == lang.ScopeType {
			kind = sym.KindMethod
		}

		def := Definition{
			Name:       d.Name,
			Kind:       kind,
			Scope:      scope,
			StartLine:  d.StartLine,
			EndLine:    d.EndLine,
			StartByte:  d.StartByte,
			EndByte:    d.EndByte,
			NameByte:   d.NameByte,
			Signature:  d.Signature,
			BodyTokens: d.BodyTokens,
			Visibility: d.Visibility,
			Branches:   d.Branches,
			Mutations:  d.Mutations,
		}
		if d.Receiver != "" {
			def.QualifiedName = d.Receiver // finished by qualifyDefinitions
		}
		f.Defs = append(f.Defs, def)
	}

	f.assignOwners()
}

// assignOwners links each scope to the definition that opened it, so
// qualified names can include enclosing type and function names.
func (f *File) assignOwners() {
	for si := range f.Scopes {
		if si == 0 {
			continue
		}
		s := &f.Scopes[si]
		owner, ownerSpan := -1, ^uint32(0)
		for di, d := range f.Defs {
			if d.Kind != sym.KindFunction && d.Kind != sym.KindMethod && d.Kind != sym.KindType {
				continue
			}
			// The owning definition's node encloses (or equals) the
			// scope span; prefer the tightest enclosure.
			if d.StartByte <= s.StartByte && s.EndByte <= d.EndByte {
				if span := d.EndByte - d.StartByte; span < ownerSpan {
					owner, ownerSpan = di, span
				}
			}
		}
		s.Owner = owner
	}
}

func (f *File) moduleName(det lang.Detector, path string) string {
	for _, d := range f.Defs {
		if d.Kind == sym.KindNamespace {
			return d.Name
		}
	}
	return det.ModuleName(path)
}

// attachImports folds import bindings into the root scope as transient
// import definitions carrying their qualified targets.
func (f *File) attachImports() {
	for _, imp := range f.Imports {
		module := lang.NormalizeSource(imp.Source)
		for _, b := range imp.Bindings {
			if b.Local == "" {
				continue
			}
			target := module
			moduleBinding := b.Member == ""
			if !moduleBinding {
				target = module + "." + b.Member
			}
			f.Defs = append(f.Defs, Definition{
				Name:            b.Local,
				Kind:            sym.KindImport,
				Scope:           0,
				StartLine:       imp.Line,
				EndLine:         imp.Line,
				ImportTarget:    target,
				IsModuleBinding: moduleBinding,
				Visibility:      sym.Private,
			})
		}
	}
}

// qualifyDefinitions computes qualified names: module, then enclosing
// owner names along the scope chain, then the definition's own name.
// Receiver-style methods use the receiver type as the middle segment.
func (f *File) qualifyDefinitions() {
	for i := range f.Defs {
		d := &f.Defs[i]
		if d.Kind == sym.KindImport {
			continue
		}
		if d.Kind == sym.KindNamespace {
			d.QualifiedName = d.Name
			continue
		}
		if d.QualifiedName != "" { // receiver recorded by placeDefinitions
			d.QualifiedName = f.Module + "." + d.QualifiedName + "." + d.Name
			continue
		}
		var segments []string
		for si := d.Scope; si > 0; si = f.Scopes[si].Parent {
			if o := f.Scopes[si].Owner; o >= 0 {
				segments = append(segments, f.Defs[o].Name)
			}
		}
		// segments were collected innermost-first.
		parts := []string{f.Module}
		for j := len(segments) - 1; j >= 0; j-- {
			parts = append(parts, segments[j])
		}
		parts = append(parts, d.Name)
		d.QualifiedName = strings.Join(parts, ".")
	}
}

// placeReferences assigns references to their deepest enclosing scope,
// dropping identifier captures that merely restate a definition name or a
// call already captured with more context.
func (f *File) placeReferences(refs []lang.RefCapture) {
	defBytes := make(map[uint32]bool, len(f.Defs))
	for _, d := range f.Defs {
		if d.Kind != sym.KindImport {
			defBytes[d.NameByte] = true
		}
	}
	callBytes := make(map[uint32]bool)
	for _, r := range refs {
		if r.IsCall {
			callBytes[r.StartByte] = true
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].StartByte < refs[j].StartByte })

	for _, r := range refs {
		if defBytes[r.StartByte] {
			continue
		}
		if !r.IsCall && callBytes[r.StartByte] {
			continue
		}
		f.Refs = append(f.Refs, Reference{
			Name:      r.Name,
			Qualifier: r.Qualifier,
			Scope:     f.scopeAt(r.StartByte),
			Line:      r.Line,
			StartByte: r.StartByte,
			IsCall:    r.IsCall,
			IsDynamic: r.IsDynamic,
		})
	}
}

// EnclosingDef returns the index of the innermost function or method
// definition whose span contains the byte offset, or -1.
func (f *File) EnclosingDef(b uint32) int {
	best, bestSpan := -1, ^uint32(0)
	for i, d := range f.Defs {
		if d.Kind != sym.KindFunction && d.Kind != sym.KindMethod {
			continue
		}
		if d.StartByte <= b && b < d.EndByte {
			if span := d.EndByte - d.StartByte; span < bestSpan {
				best, bestSpan = i, span
			}
		}
	}
	return best
}
