// Package lang provides the language registry and the detector capability
// contract. Each supported language contributes a tree-sitter grammar plus a
// declarative pattern table (an embedded .scm query); the extraction
// normalizer depends only on the Detector interface, never on a specific
// grammar.
package lang

import (
	"context"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"loupe/internal/sym"
)

//go:embed queries/*.scm
var queryFS embed.FS

// ScopeKind classifies a scope boundary reported by a detector.
type ScopeKind string

const (
	ScopeModule   ScopeKind = "module"
	ScopeType     ScopeKind = "type"
	ScopeFunction ScopeKind = "function"
	ScopeBlock    ScopeKind = "block"
)

// DefCapture is a raw definition reported by a detector. Byte offsets are
// used for scope nesting; lines are 1-based for display.
type DefCapture struct {
	Name       string
	Kind       sym.Kind
	StartByte  uint32
	EndByte    uint32
	NameByte   uint32
	StartLine  int
	EndLine    int
	Signature  string
	BodyTokens []string
	Visibility sym.Visibility

	// Receiver is the receiver type name for receiver-style methods.
	Receiver string

	// Structural signals for the risk scorer.
	Branches  int
	Mutations int
}

// RefCapture is a raw name-use reported by a detector. IsDynamic marks a
// call dispatched through a value (a selector chain or a call result)
// rather than a name the scope chain could bind.
type RefCapture struct {
	Name      string
	Qualifier string
	StartByte uint32
	Line      int
	IsCall    bool
	IsDynamic bool
}

// ScopeCapture is a raw scope boundary reported by a detector.
type ScopeCapture struct {
	Kind      ScopeKind
	StartByte uint32
	EndByte   uint32
	StartLine int
	EndLine   int
}

// ImportBinding is one local name introduced by an import. Member names
// the imported item inside the source module; empty means the local binds
// the module itself and is used as a qualifier.
type ImportBinding struct {
	Local  string
	Member string
}

// ImportCapture is one import clause: a source module and the local names
// it binds in the file.
type ImportCapture struct {
	Source   string
	Bindings []ImportBinding
	Line     int
}

// Detector is the capability contract every language plugin implements.
// Extraction methods are pure over a ParseResult and may be called in any
// order; the normalizer sorts captures itself.
type Detector interface {
	Language() string
	Parse(ctx context.Context, src []byte) (*ParseResult, error)
	ExtractDefinitions(pr *ParseResult) []DefCapture
	ExtractReferences(pr *ParseResult) []RefCapture
	ExtractScopes(pr *ParseResult) []ScopeCapture
	ExtractImports(pr *ParseResult) []ImportCapture

	// ModuleName derives the module identifier used in qualified names.
	ModuleName(path string) string

	// SharesModuleScope reports whether files with the same module name
	// share their module scope without an explicit import (Go packages).
	SharesModuleScope() bool
}

// Language holds everything needed to drive the generic tree-sitter
// detector for one language. Per-language files populate Languages in
// their init functions.
type Language struct {
	Name       string
	Extensions []string

	lang      *sitter.Language
	queryOnce sync.Once
	query     *sitter.Query
	queryErr  error

	// Node type sets consulted while walking definition bodies.
	BranchNodes   map[string]bool
	MutationNodes map[string]bool

	// Module naming. When DirAsModule is set, the containing directory
	// names the module (Go packages); otherwise the file stem does.
	DirAsModule   bool
	SharedModule  bool
	VisibilityOf  func(name string, node *sitter.Node, src []byte) sym.Visibility
	CollectImport func(node *sitter.Node, src []byte) []ImportCapture

	// ReceiverType extracts the receiver type name for receiver-style
	// methods (Go). Nil for languages whose methods nest inside types.
	ReceiverType func(node *sitter.Node, src []byte) string
}

// Languages maps language names to their configuration.
var Languages = map[string]*Language{}

var (
	extensionMap  map[string]string
	extensionOnce sync.Once
)

// ForFile returns the language name for a file path, or false when the
// extension is unsupported.
func ForFile(path string) (string, bool) {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	name, ok := extensionMap[strings.ToLower(filepath.Ext(path))]
	return name, ok
}

// DetectorFor returns the detector for a language name.
func DetectorFor(name string) (Detector, bool) {
	l, ok := Languages[name]
	if !ok {
		return nil, false
	}
	return &treeDetector{l: l}, true
}

// compiledQuery compiles the language's embedded pattern table once.
func (l *Language) compiledQuery() (*sitter.Query, error) {
	l.queryOnce.Do(func() {
		data, err := queryFS.ReadFile(fmt.Sprintf("queries/%s.scm", l.Name))
		if err != nil {
			l.queryErr = fmt.Errorf("reading query file: %w", err)
			return
		}
		q, err := sitter.NewQuery(data, l.lang)
		if err != nil {
			l.queryErr = fmt.Errorf("compiling query for %s: %w", l.Name, err)
			return
		}
		l.query = q
	})
	return l.query, l.queryErr
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, src []byte) string {
	return string(src[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeSource reduces an import source to its module name: quotes and
// relative prefixes stripped, last path segment, extension dropped.
func NormalizeSource(source string) string {
	s := strings.Trim(source, `"'`+"`")
	s = strings.TrimPrefix(s, "./")
	if i := strings.LastIndexAny(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if ext := filepath.Ext(s); ext != "" && len(ext) < len(s) {
		s = strings.TrimSuffix(s, ext)
	}
	return s
}
