package reconcile

import (
	"math"
	"sort"
)

// HypothesisKind names a discount model.
type HypothesisKind string

const (
	KindPercent  HypothesisKind = "percent"
	KindPerCase  HypothesisKind = "per_case"
	KindPerLitre HypothesisKind = "per_litre"

	// KindBundle marks a promo/bundle discount supplied by an external
	// rule source. The solver never produces it; the classifier routes it
	// to needs_user_rule.
	KindBundle HypothesisKind = "bundle"
)

// Modelled reports whether the kind is one the solver can produce.
func (k HypothesisKind) Modelled() bool {
	switch k {
	case KindPercent, KindPerCase, KindPerLitre:
		return true
	default:
		return false
	}
}

// DiscountHypothesis is one candidate explanation of a price delta.
type DiscountHypothesis struct {
	Kind            HypothesisKind
	Value           float64
	ResidualPennies int
	Confidence      float64
}

// DiscountResult is the winning hypothesis for a line. A nil result means
// the billed value matches the expected value within a penny, or no
// hypothesis met the confidence bar.
type DiscountResult struct {
	Kind            HypothesisKind
	Value           float64
	ResidualPennies int
	Confidence      float64
	Hypothesis      DiscountHypothesis
}

// SolverConfig carries the solver's tolerance and validity bounds.
type SolverConfig struct {
	// PennyTolerance is the absolute currency delta under which a line is
	// considered fully explained with no discount.
	PennyTolerance float64
	// MinConfidence is the hard acceptance gate for the winning hypothesis.
	MinConfidence float64
	// ResidualTolerancePennies is informational for downstream display
	// ("within tolerance"); it does not gate selection.
	ResidualTolerancePennies int

	MaxPercent       float64
	MaxPerCaseAmount float64
	MaxPerLitre      float64
}

// DefaultSolverConfig returns production defaults.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		PennyTolerance:           0.01,
		MinConfidence:            0.80,
		ResidualTolerancePennies: 50,
		MaxPercent:               80,
		MaxPerCaseAmount:         50,
		MaxPerLitre:              10,
	}
}

// DiscountSolver tests discount models against a line's price delta and
// picks the best fit. It is pure and never panics outward: numerically
// invalid candidates are dropped, not surfaced as errors.
type DiscountSolver struct {
	cfg SolverConfig
}

// NewDiscountSolver constructs a solver.
func NewDiscountSolver(cfg SolverConfig) (*DiscountSolver, error) {
	if cfg.PennyTolerance <= 0 || cfg.MinConfidence <= 0 || cfg.MinConfidence > 1 {
		return nil, ErrInvalidSolverConfig
	}
	if cfg.MaxPercent <= 0 || cfg.MaxPerCaseAmount <= 0 || cfg.MaxPerLitre <= 0 {
		return nil, ErrInvalidSolverConfig
	}
	return &DiscountSolver{cfg: cfg}, nil
}

// Solve explains the delta between qty×unitPrice and nettValue. It returns
// nil when there is no delta to explain or no hypothesis fits.
func (s *DiscountSolver) Solve(qty, unitPrice, nettValue float64, canonical CanonicalQuantities) *DiscountResult {
	if s == nil {
		return nil
	}
	expected := qty * unitPrice
	if !finite(expected) || !finite(nettValue) {
		return nil
	}
	if math.Abs(expected-nettValue) < s.cfg.PennyTolerance {
		return nil
	}

	var candidates []DiscountHypothesis
	if h, ok := s.percentHypothesis(expected, nettValue); ok {
		candidates = append(candidates, h)
	}
	if h, ok := s.perCaseHypothesis(expected, nettValue, canonical.Packs); ok {
		candidates = append(candidates, h)
	}
	if canonical.QuantityL != nil {
		if h, ok := s.perLitreHypothesis(expected, nettValue, *canonical.QuantityL); ok {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ResidualPennies != candidates[j].ResidualPennies {
			return candidates[i].ResidualPennies < candidates[j].ResidualPennies
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})

	winner := candidates[0]
	if winner.Confidence < s.cfg.MinConfidence {
		return nil
	}
	return &DiscountResult{
		Kind:            winner.Kind,
		Value:           winner.Value,
		ResidualPennies: winner.ResidualPennies,
		Confidence:      winner.Confidence,
		Hypothesis:      winner,
	}
}

func (s *DiscountSolver) percentHypothesis(expected, nettValue float64) (DiscountHypothesis, bool) {
	if expected <= 0 {
		return DiscountHypothesis{}, false
	}
	pct := round2((expected - nettValue) / expected * 100)
	if !finite(pct) || pct < 0 || pct > s.cfg.MaxPercent {
		return DiscountHypothesis{}, false
	}
	implied := expected * (1 - pct/100)
	return s.score(KindPercent, pct, implied, nettValue)
}

func (s *DiscountSolver) perCaseHypothesis(expected, nettValue, packs float64) (DiscountHypothesis, bool) {
	if packs <= 0 {
		return DiscountHypothesis{}, false
	}
	perCase := round2((expected - nettValue) / packs)
	if !finite(perCase) || perCase < 0 || perCase > s.cfg.MaxPerCaseAmount {
		return DiscountHypothesis{}, false
	}
	implied := expected - packs*perCase
	return s.score(KindPerCase, perCase, implied, nettValue)
}

func (s *DiscountSolver) perLitreHypothesis(expected, nettValue, quantityL float64) (DiscountHypothesis, bool) {
	if quantityL <= 0 {
		return DiscountHypothesis{}, false
	}
	perLitre := round2((expected - nettValue) / quantityL)
	if !finite(perLitre) || perLitre < 0 || perLitre > s.cfg.MaxPerLitre {
		return DiscountHypothesis{}, false
	}
	implied := expected - quantityL*perLitre
	return s.score(KindPerLitre, perLitre, implied, nettValue)
}

func (s *DiscountSolver) score(kind HypothesisKind, value, implied, nettValue float64) (DiscountHypothesis, bool) {
	if !finite(implied) {
		return DiscountHypothesis{}, false
	}
	residual := int(math.Round(math.Abs(implied-nettValue) * 100))
	confidence := 1 - float64(residual)/100
	if confidence < 0 {
		confidence = 0
	}
	return DiscountHypothesis{
		Kind:            kind,
		Value:           value,
		ResidualPennies: residual,
		Confidence:      confidence,
	}, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
