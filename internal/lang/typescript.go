package lang

import (
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func init() {
	Languages["typescript"] = &Language{
		Name:          "typescript",
		Extensions:    []string{".ts", ".tsx"},
		lang:          typescript.GetLanguage(),
		BranchNodes:   jsBranchNodes,
		MutationNodes: jsMutationNodes,
		VisibilityOf:  jsVisibility,
		CollectImport: jsCollectImport,
	}
}
