package loupe

import (
	"loupe/internal/index"
	"loupe/internal/risk"
	"loupe/internal/sym"
)

// Public type aliases for internal types surfaced by the Engine and
// QueryBuilder APIs. These are Go type aliases (=), identical to the
// internal types at compile time; external consumers use these names.

type Symbol = sym.Symbol
type Kind = sym.Kind
type Visibility = sym.Visibility
type RiskLevel = sym.RiskLevel
type Snapshot = index.Snapshot
type FileRecord = index.FileRecord
type Scorer = risk.Scorer
type Signals = risk.Signals
