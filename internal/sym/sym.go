// Package sym defines the canonical symbol model and content-addressed
// symbol identity.
package sym

// Kind classifies what a definition binds.
type Kind string

const (
	KindVariable  Kind = "variable"
	KindParameter Kind = "parameter"
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindType      Kind = "type"
	KindField     Kind = "field"
	KindImport    Kind = "import"
	KindNamespace Kind = "namespace"
)

// Durable reports whether definitions of this kind survive into the
// persisted index as Symbols. Parameters, locals, and imports are
// transient bindings used only during resolution.
func (k Kind) Durable() bool {
	switch k {
	case KindFunction, KindMethod, KindType, KindField, KindNamespace, KindVariable:
		return true
	}
	return false
}

// Callable reports whether a binding of this kind is a valid resolution
// target for a call-position reference. Types are callable because class
// instantiation and conversions parse as calls. Fields are not.
func (k Kind) Callable() bool {
	switch k {
	case KindFunction, KindMethod, KindVariable, KindParameter, KindImport, KindNamespace, KindType:
		return true
	}
	return false
}

// Visibility of a symbol in its module.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// RiskLevel is the coarse risk classification assigned by the scorer.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Symbol is the canonical, hash-identified unit of the index.
type Symbol struct {
	Hash          string     `json:"hash"`
	QualifiedName string     `json:"qualified_name"`
	Name          string     `json:"name"`
	Kind          Kind       `json:"kind"`
	Language      string     `json:"language"`
	File          string     `json:"file"`
	StartLine     int        `json:"start_line"`
	EndLine       int        `json:"end_line"`
	Visibility    Visibility `json:"visibility"`
	RiskLevel     RiskLevel  `json:"risk_level"`

	// ClusterKey groups symbols with structurally identical bodies
	// regardless of their name. Used for duplicate detection.
	ClusterKey string `json:"cluster_key,omitempty"`

	Signature string `json:"signature,omitempty"`
}
