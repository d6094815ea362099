package reconcile

import (
	"math"
	"strings"
)

// MathCheckConfig carries tolerances for deterministic line math checks.
type MathCheckConfig struct {
	// PriceTolAbs is the absolute money tolerance (currency units).
	PriceTolAbs float64
	// PriceTolPct is the relative tolerance; a line is incoherent only
	// when it exceeds both the absolute and relative tolerances.
	PriceTolPct float64
	// QtyTol is the quantity tolerance for pack descriptor checks.
	QtyTol float64
	// LargeDiscountPct and LargeDiscountAbs describe the carve-out for
	// clearly intentional large discounts, which are not math errors.
	LargeDiscountPct float64
	LargeDiscountAbs float64

	FOCTerms []string
}

// DefaultMathCheckConfig returns production defaults.
func DefaultMathCheckConfig() MathCheckConfig {
	return MathCheckConfig{
		PriceTolAbs:      0.01,
		PriceTolPct:      0.01,
		QtyTol:           0.01,
		LargeDiscountPct: 0.30,
		LargeDiscountAbs: 10.0,
		FOCTerms:         []string{"foc", "free", "sample", "complimentary", "gratis"},
	}
}

// MathChecker validates price coherence, pack descriptors and VAT totals,
// producing the flags the verdict classifier consumes. All checks are pure.
type MathChecker struct {
	cfg MathCheckConfig
}

// NewMathChecker constructs a checker.
func NewMathChecker(cfg MathCheckConfig) *MathChecker {
	if cfg.PriceTolAbs <= 0 {
		cfg = DefaultMathCheckConfig()
	}
	return &MathChecker{cfg: cfg}
}

// ValidateLine runs all line-level checks and returns the accumulated
// flags. FOC_LINE alone does not make a line invalid.
func (c *MathChecker) ValidateLine(line RawLine, canonical CanonicalQuantities) FlagSet {
	flags := NewFlagSet()
	if c == nil {
		return flags
	}
	if flag, ok := c.checkPriceCoherence(line.UnitPrice, line.Quantity, line.LineTotal, line.Description); ok {
		flags.Add(flag)
	}
	if flag, ok := c.checkPackDescriptor(canonical); ok {
		flags.Add(flag)
	}
	if c.isFOC(line.LineTotal, line.UnitPrice, line.Description) {
		flags.Add(FlagFOCLine)
	}
	return flags
}

// checkPriceCoherence verifies unit_price × quantity ≈ line_total. A line
// is incoherent only when it misses both the penny and the percentage
// tolerance; very large drops are treated as intentional discounts.
func (c *MathChecker) checkPriceCoherence(unitPrice, quantity, lineTotal float64, description string) (Flag, bool) {
	if c.isFOC(lineTotal, unitPrice, description) {
		return "", false
	}
	expected := bankerRound2(unitPrice * quantity)
	actual := bankerRound2(lineTotal)

	absDiff := math.Abs(expected - actual)
	pctDiff := math.Inf(1)
	if actual != 0 {
		pctDiff = absDiff / math.Abs(actual)
	}

	if pctDiff > c.cfg.LargeDiscountPct && actual < expected && absDiff > c.cfg.LargeDiscountAbs {
		return "", false
	}
	if absDiff > c.cfg.PriceTolAbs && pctDiff > c.cfg.PriceTolPct {
		return FlagPriceIncoherent, true
	}
	return "", false
}

// checkPackDescriptor verifies packs × units_per_pack matches the parsed
// quantity. The resulting PACK_MISMATCH flag is advisory input to the
// classifier, not a normalizer output.
func (c *MathChecker) checkPackDescriptor(canonical CanonicalQuantities) (Flag, bool) {
	if canonical.Packs <= 0 || canonical.UnitsPerPack <= 0 {
		return FlagPackDescriptorPartial, true
	}
	expected := canonical.Packs * canonical.UnitsPerPack
	if math.Abs(expected-canonical.QuantityEach) > c.cfg.QtyTol {
		return FlagPackMismatch, true
	}
	return "", false
}

// CheckInvoiceTotals validates invoice-level VAT and subtotal arithmetic.
// vatRate is a percentage; pass nil when the invoice does not state one.
func (c *MathChecker) CheckInvoiceTotals(subtotal, vatAmount float64, vatRate *float64, invoiceTotal float64) FlagSet {
	flags := NewFlagSet()
	if c == nil {
		return flags
	}
	if vatRate != nil {
		expectedVAT := bankerRound2(subtotal * (*vatRate / 100))
		if math.Abs(expectedVAT-bankerRound2(vatAmount)) > c.cfg.PriceTolAbs {
			flags.Add(FlagVATMismatch)
		}
	}
	expectedTotal := bankerRound2(subtotal + vatAmount)
	if math.Abs(expectedTotal-bankerRound2(invoiceTotal)) > c.cfg.PriceTolAbs {
		flags.Add(FlagSubtotalMismatch)
	}
	return flags
}

func (c *MathChecker) isFOC(lineTotal, unitPrice float64, description string) bool {
	if lineTotal != 0 {
		return false
	}
	if unitPrice == 0 {
		return true
	}
	desc := strings.ToLower(description)
	for _, term := range c.cfg.FOCTerms {
		if strings.Contains(desc, term) {
			return true
		}
	}
	return false
}

// bankerRound2 rounds half to even at two decimal places, matching how
// invoice totals are printed by supplier systems.
func bankerRound2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.RoundToEven(v*100) / 100
}
