// Package risk derives a coarse risk classification per symbol from
// structural signals. The scorer is pluggable; rebuilds stay reproducible
// because scoring is a pure function of the signals.
package risk

import "loupe/internal/sym"

// Signals are the structural counts collected during extraction and call
// graph construction for one symbol's body.
type Signals struct {
	// Branches counts conditional and looping constructs.
	Branches int
	// FanOut counts distinct call targets, resolved or not.
	FanOut int
	// Mutations counts state-mutating statements.
	Mutations int
}

// Scorer classifies a symbol given its structural signals.
type Scorer interface {
	Score(s *sym.Symbol, sig Signals) sym.RiskLevel
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(s *sym.Symbol, sig Signals) sym.RiskLevel

func (f ScorerFunc) Score(s *sym.Symbol, sig Signals) sym.RiskLevel {
	return f(s, sig)
}

// Default returns the built-in scorer. Scoring is graduated rather than
// linear so ordinary branching code does not saturate at high risk:
//
//	+1 base for any branching, +1 above 5, +1 above 15
//	+1 for any fan-out, +1 above 5, +1 above 15
//	+1 per mutation, capped at 3
//	+1 for public functions and methods (exposed surface)
//
// Scores of two or less stay low, so a plain exported function that
// calls one thing is not flagged.
func Default() Scorer {
	return ScorerFunc(defaultScore)
}

func defaultScore(s *sym.Symbol, sig Signals) sym.RiskLevel {
	score := graduated(sig.Branches) + graduated(sig.FanOut)

	if sig.Mutations > 3 {
		score += 3
	} else {
		score += sig.Mutations
	}

	if s.Visibility == sym.Public && (s.Kind == sym.KindFunction || s.Kind == sym.KindMethod) {
		score++
	}

	return fromScore(score)
}

func graduated(n int) int {
	score := 0
	if n > 0 {
		score++
	}
	if n > 5 {
		score++
	}
	if n > 15 {
		score++
	}
	return score
}

func fromScore(score int) sym.RiskLevel {
	switch {
	case score <= 2:
		return sym.RiskLow
	case score <= 3:
		return sym.RiskMedium
	default:
		return sym.RiskHigh
	}
}
