package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"loupe/internal/sym"
)

func init() {
	Languages["javascript"] = &Language{
		Name:          "javascript",
		Extensions:    []string{".js", ".jsx", ".mjs", ".cjs"},
		lang:          javascript.GetLanguage(),
		BranchNodes:   jsBranchNodes,
		MutationNodes: jsMutationNodes,
		VisibilityOf:  jsVisibility,
		CollectImport: jsCollectImport,
	}
}

var jsBranchNodes = map[string]bool{
	"if_statement":       true,
	"for_statement":      true,
	"for_in_statement":   true,
	"while_statement":    true,
	"switch_statement":   true,
	"ternary_expression": true,
	"try_statement":      true,
}

var jsMutationNodes = map[string]bool{
	"assignment_expression":           true,
	"augmented_assignment_expression": true,
	"update_expression":               true,
}

// jsVisibility treats a definition as public when an export statement
// encloses it.
func jsVisibility(_ string, node *sitter.Node, _ []byte) sym.Visibility {
	for n := node.Parent(); n != nil; n = n.Parent() {
		if n.Type() == "export_statement" {
			return sym.Public
		}
	}
	return sym.Private
}

// jsCollectImport walks an import_statement: named specifiers bind members
// of the source module; default and namespace imports bind the module.
func jsCollectImport(node *sitter.Node, src []byte) []ImportCapture {
	cap := ImportCapture{Line: int(node.StartPoint().Row) + 1}

	if s := node.ChildByFieldName("source"); s != nil {
		cap.Source = strings.Trim(NodeText(s, src), `"'`+"`")
	}
	if cap.Source == "" {
		return nil
	}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "import_specifier":
			member, local := "", ""
			if nm := n.ChildByFieldName("name"); nm != nil {
				member = NodeText(nm, src)
				local = member
			}
			if al := n.ChildByFieldName("alias"); al != nil {
				local = NodeText(al, src)
			}
			if local != "" {
				cap.Bindings = append(cap.Bindings, ImportBinding{Local: local, Member: member})
			}
			return
		case "namespace_import":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if c := n.NamedChild(i); c.Type() == "identifier" {
					cap.Bindings = append(cap.Bindings, ImportBinding{Local: NodeText(c, src)})
				}
			}
			return
		case "identifier":
			// Default import: the identifier directly under import_clause.
			if p := n.Parent(); p != nil && p.Type() == "import_clause" {
				cap.Bindings = append(cap.Bindings, ImportBinding{Local: NodeText(n, src)})
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(node)

	if len(cap.Bindings) == 0 {
		// Side-effect import; bind the module name for qualified lookups.
		cap.Bindings = append(cap.Bindings, ImportBinding{Local: NormalizeSource(cap.Source)})
	}
	return []ImportCapture{cap}
}
