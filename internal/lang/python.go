package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"loupe/internal/sym"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		BranchNodes: map[string]bool{
			"if_statement":           true,
			"for_statement":          true,
			"while_statement":        true,
			"try_statement":          true,
			"conditional_expression": true,
			"match_statement":        true,
		},
		MutationNodes: map[string]bool{
			"assignment":           true,
			"augmented_assignment": true,
		},
		VisibilityOf:  pyVisibility,
		CollectImport: pyCollectImport,
	}
}

func pyVisibility(name string, _ *sitter.Node, _ []byte) sym.Visibility {
	if strings.HasPrefix(name, "_") {
		return sym.Private
	}
	return sym.Public
}

// pyCollectImport handles both statement forms. "import a.b" binds the
// top-level module name; "from m import x, y as z" binds each imported
// (or aliased) name against the source module.
func pyCollectImport(node *sitter.Node, src []byte) []ImportCapture {
	line := int(node.StartPoint().Row) + 1

	switch node.Type() {
	case "import_statement":
		var out []ImportCapture
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				source := NodeText(child, src)
				out = append(out, ImportCapture{
					Source:   source,
					Bindings: []ImportBinding{{Local: topModule(source)}},
					Line:     line,
				})
			case "aliased_import":
				source, alias := aliasedImport(child, src)
				if source != "" {
					out = append(out, ImportCapture{
						Source:   source,
						Bindings: []ImportBinding{{Local: alias}},
						Line:     line,
					})
				}
			}
		}
		return out

	case "import_from_statement":
		module := ""
		if m := node.ChildByFieldName("module_name"); m != nil {
			module = NodeText(m, src)
		}
		if module == "" {
			return nil
		}
		var bindings []ImportBinding
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				if name := NodeText(child, src); name != module {
					bindings = append(bindings, ImportBinding{Local: name, Member: name})
				}
			case "aliased_import":
				member, alias := aliasedImport(child, src)
				if member != "" {
					bindings = append(bindings, ImportBinding{Local: alias, Member: member})
				}
			case "wildcard_import":
				// Names bound by * cannot be enumerated lexically.
			}
		}
		return []ImportCapture{{Source: module, Bindings: bindings, Line: line}}
	}
	return nil
}

func aliasedImport(node *sitter.Node, src []byte) (name, alias string) {
	if n := node.ChildByFieldName("name"); n != nil {
		name = NodeText(n, src)
		alias = topModule(name)
	}
	if a := node.ChildByFieldName("alias"); a != nil {
		alias = NodeText(a, src)
	}
	return name, alias
}

func topModule(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}
