package lang

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"loupe/internal/sym"
)

// ParseResult wraps a parsed tree. Callers must Close it to release the
// tree-sitter allocation.
type ParseResult struct {
	tree *sitter.Tree
	src  []byte

	// captures memoizes the single query pass over this tree.
	captures *captureSet
}

// Root returns the root node of the parse tree.
func (pr *ParseResult) Root() *sitter.Node { return pr.tree.RootNode() }

// Source returns the raw bytes the tree was parsed from.
func (pr *ParseResult) Source() []byte { return pr.src }

// Close releases the underlying tree.
func (pr *ParseResult) Close() {
	if pr.tree != nil {
		pr.tree.Close()
		pr.tree = nil
	}
}

// captureSet is the grouped output of one query pass.
type captureSet struct {
	defs    []DefCapture
	refs    []RefCapture
	scopes  []ScopeCapture
	imports []ImportCapture
}

// treeDetector is the generic detector: one implementation parameterized by
// a Language pattern table.
type treeDetector struct {
	l *Language
}

func (d *treeDetector) Language() string        { return d.l.Name }
func (d *treeDetector) SharesModuleScope() bool { return d.l.SharedModule }

func (d *treeDetector) ModuleName(path string) string {
	if d.l.DirAsModule {
		return filepath.Base(filepath.Dir(path))
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Parse parses source bytes. Each call uses a fresh parser because
// tree-sitter parsers are not goroutine-safe.
func (d *treeDetector) Parse(ctx context.Context, src []byte) (*ParseResult, error) {
	p := sitter.NewParser()
	p.SetLanguage(d.l.lang)
	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.l.Name, err)
	}
	return &ParseResult{tree: tree, src: src}, nil
}

func (d *treeDetector) ExtractDefinitions(pr *ParseResult) []DefCapture {
	return d.capturesFor(pr).defs
}

func (d *treeDetector) ExtractReferences(pr *ParseResult) []RefCapture {
	return d.capturesFor(pr).refs
}

func (d *treeDetector) ExtractScopes(pr *ParseResult) []ScopeCapture {
	return d.capturesFor(pr).scopes
}

func (d *treeDetector) ExtractImports(pr *ParseResult) []ImportCapture {
	return d.capturesFor(pr).imports
}

// capturesFor runs the pattern table once per ParseResult and groups the
// matches. Capture names follow a fixed convention: the pattern capture
// (def.*, ref.*, scope.*) names the category; @name, @qualifier and
// @source annotate it.
func (d *treeDetector) capturesFor(pr *ParseResult) *captureSet {
	if pr.captures != nil {
		return pr.captures
	}
	cs := &captureSet{}
	pr.captures = cs

	q, err := d.l.compiledQuery()
	if err != nil {
		return cs
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, pr.Root())

	// A call node can match both a specific pattern and the dynamic
	// catch-all; the specific capture wins.
	callByByte := map[uint32]int{}

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, pr.src)

		var pattern string
		var patternNode, nameNode, qualifierNode, sourceNode *sitter.Node
		for _, c := range match.Captures {
			switch cname := q.CaptureNameForId(c.Index); cname {
			case "name":
				nameNode = c.Node
			case "qualifier":
				qualifierNode = c.Node
			case "source":
				sourceNode = c.Node
			default:
				pattern = cname
				patternNode = c.Node
			}
		}
		if pattern == "" || patternNode == nil {
			continue
		}

		switch {
		case strings.HasPrefix(pattern, "def.import"):
			cs.imports = append(cs.imports, d.collectImports(patternNode, sourceNode, pr.src)...)

		case strings.HasPrefix(pattern, "def."):
			if nameNode == nil {
				continue
			}
			cs.defs = append(cs.defs, d.buildDef(pattern, patternNode, nameNode, pr.src))

		case pattern == "ref.call", pattern == "ref.dynamic":
			if nameNode == nil {
				continue
			}
			ref := RefCapture{
				Name:      NodeText(nameNode, pr.src),
				StartByte: nameNode.StartByte(),
				Line:      int(nameNode.StartPoint().Row) + 1,
				IsCall:    true,
				IsDynamic: pattern == "ref.dynamic",
			}
			if qualifierNode != nil {
				ref.Qualifier = NodeText(qualifierNode, pr.src)
			}
			if i, seen := callByByte[ref.StartByte]; seen {
				if !ref.IsDynamic && cs.refs[i].IsDynamic {
					cs.refs[i] = ref
				}
				continue
			}
			callByByte[ref.StartByte] = len(cs.refs)
			cs.refs = append(cs.refs, ref)

		case pattern == "ref.ident":
			if nameNode == nil {
				nameNode = patternNode
			}
			cs.refs = append(cs.refs, RefCapture{
				Name:      NodeText(nameNode, pr.src),
				StartByte: nameNode.StartByte(),
				Line:      int(nameNode.StartPoint().Row) + 1,
			})

		case strings.HasPrefix(pattern, "scope."):
			cs.scopes = append(cs.scopes, ScopeCapture{
				Kind:      ScopeKind(strings.TrimPrefix(pattern, "scope.")),
				StartByte: patternNode.StartByte(),
				EndByte:   patternNode.EndByte(),
				StartLine: int(patternNode.StartPoint().Row) + 1,
				EndLine:   int(patternNode.EndPoint().Row) + 1,
			})
		}
	}
	return cs
}

func (d *treeDetector) buildDef(pattern string, node, nameNode *sitter.Node, src []byte) DefCapture {
	kind := sym.Kind(strings.TrimPrefix(pattern, "def."))
	name := NodeText(nameNode, src)

	def := DefCapture{
		Name:      name,
		Kind:      kind,
		StartByte: node.StartByte(),
		EndByte:   node.EndByte(),
		NameByte:  nameNode.StartByte(),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	body := node.ChildByFieldName("body")
	if body != nil {
		def.Signature = CollapseWhitespace(string(src[node.StartByte():body.StartByte()]))
		def.BodyTokens = leafTokens(body, src)
		def.Branches, def.Mutations = d.countSignals(body)
	} else {
		def.Signature = firstLine(NodeText(node, src))
		def.BodyTokens = leafTokens(node, src)
		def.Branches, def.Mutations = d.countSignals(node)
	}

	if d.l.VisibilityOf != nil {
		def.Visibility = d.l.VisibilityOf(name, node, src)
	} else {
		def.Visibility = sym.Public
	}
	if kind == sym.KindMethod && d.l.ReceiverType != nil {
		def.Receiver = d.l.ReceiverType(node, src)
	}
	return def
}

// collectImports delegates to the language's import walker when present,
// falling back to a single capture built from the @source node.
func (d *treeDetector) collectImports(node, sourceNode *sitter.Node, src []byte) []ImportCapture {
	if d.l.CollectImport != nil {
		return d.l.CollectImport(node, src)
	}
	if sourceNode == nil {
		return nil
	}
	source := strings.Trim(NodeText(sourceNode, src), `"'`+"`")
	return []ImportCapture{{
		Source:   source,
		Bindings: []ImportBinding{{Local: NormalizeSource(source)}},
		Line:     int(node.StartPoint().Row) + 1,
	}}
}

// countSignals walks a subtree counting branch and state-mutation nodes.
func (d *treeDetector) countSignals(node *sitter.Node) (branches, mutations int) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		t := n.Type()
		if d.l.BranchNodes[t] {
			branches++
		}
		if d.l.MutationNodes[t] {
			mutations++
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(node)
	return branches, mutations
}

// leafTokens returns the normalized body token sequence: every leaf node's
// text in tree order, comments and pure whitespace dropped.
func leafTokens(node *sitter.Node, src []byte) []string {
	var tokens []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if strings.Contains(n.Type(), "comment") {
			return
		}
		if n.ChildCount() == 0 {
			if text := strings.TrimSpace(NodeText(n, src)); text != "" {
				tokens = append(tokens, text)
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return tokens
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return CollapseWhitespace(s)
}
