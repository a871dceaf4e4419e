package lang

import (
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"loupe/internal/sym"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		BranchNodes: map[string]bool{
			"if_statement":                true,
			"for_statement":               true,
			"expression_switch_statement": true,
			"type_switch_statement":       true,
			"select_statement":            true,
		},
		MutationNodes: map[string]bool{
			"assignment_statement": true,
			"inc_statement":        true,
			"dec_statement":        true,
		},
		DirAsModule:   true,
		SharedModule:  true,
		VisibilityOf:  goVisibility,
		CollectImport: goCollectImport,
		ReceiverType:  goReceiverType,
	}
}

// goReceiverType extracts the receiver type name from a method_declaration,
// unwrapping a pointer receiver if present.
func goReceiverType(node *sitter.Node, src []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		for j := 0; j < int(param.NamedChildCount()); j++ {
			switch child := param.NamedChild(j); child.Type() {
			case "type_identifier":
				return NodeText(child, src)
			case "pointer_type":
				for k := 0; k < int(child.NamedChildCount()); k++ {
					if inner := child.NamedChild(k); inner.Type() == "type_identifier" {
						return NodeText(inner, src)
					}
				}
			}
		}
	}
	return ""
}

func goVisibility(name string, _ *sitter.Node, _ []byte) sym.Visibility {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return sym.Public
	}
	return sym.Private
}

// goCollectImport walks an import_spec: the path literal names the source,
// an optional package_identifier aliases it locally.
func goCollectImport(node *sitter.Node, src []byte) []ImportCapture {
	var source, alias string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "interpreted_string_literal", "raw_string_literal":
			source = strings.Trim(NodeText(child, src), `"`+"`")
		case "package_identifier":
			alias = NodeText(child, src)
		}
	}
	if source == "" {
		return nil
	}
	local := alias
	if local == "" {
		local = NormalizeSource(source)
	}
	return []ImportCapture{{
		Source:   source,
		Bindings: []ImportBinding{{Local: local}},
		Line:     int(node.StartPoint().Row) + 1,
	}}
}
