package reconcile

import (
	"sort"
	"time"
)

// EngineVersion identifies the reconciliation engine release. It is part of
// every line fingerprint, so bumping it re-fingerprints all lines.
const EngineVersion = "1.0"

// Flag is an evidence tag attached to a line during normalisation or
// math validation.
type Flag string

const (
	FlagSizeAmbiguous         Flag = "SIZE_AMBIGUOUS"
	FlagFOCLine               Flag = "FOC_LINE"
	FlagPackMismatch          Flag = "PACK_MISMATCH"
	FlagPackDescriptorPartial Flag = "PACK_DESCRIPTOR_PARTIAL"
	FlagPriceIncoherent       Flag = "PRICE_INCOHERENT"
	FlagVATMismatch           Flag = "VAT_MISMATCH"
	FlagSubtotalMismatch      Flag = "SUBTOTAL_MISMATCH"
)

// FlagSet is an unordered set of flags.
type FlagSet map[Flag]struct{}

// NewFlagSet builds a set from the given flags.
func NewFlagSet(flags ...Flag) FlagSet {
	set := make(FlagSet, len(flags))
	for _, flag := range flags {
		set[flag] = struct{}{}
	}
	return set
}

// Add inserts a flag into the set.
func (s FlagSet) Add(flag Flag) {
	if s != nil {
		s[flag] = struct{}{}
	}
}

// Has reports whether the flag is present.
func (s FlagSet) Has(flag Flag) bool {
	_, ok := s[flag]
	return ok
}

// HasAny reports whether any of the given flags is present.
func (s FlagSet) HasAny(flags ...Flag) bool {
	for _, flag := range flags {
		if s.Has(flag) {
			return true
		}
	}
	return false
}

// Values returns the flags in sorted order for stable output.
func (s FlagSet) Values() []Flag {
	if len(s) == 0 {
		return nil
	}
	values := make([]Flag, 0, len(s))
	for flag := range s {
		values = append(values, flag)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}

// RawLine is one extracted invoice line item as handed over by the upstream
// extraction collaborator. It is never mutated by the engine.
type RawLine struct {
	InvoiceID   string
	LineID      string
	Description string
	Quantity    float64
	UnitPrice   float64
	LineTotal   float64
	SKUID       string
	UOMKey      string
	Date        time.Time
	SupplierID  string
	RulesetID   string
}

// CanonicalQuantities is a line's quantity re-expressed in canonical metric
// units. At most one of the volume/weight families is populated per line;
// a line with neither carries the SIZE_AMBIGUOUS flag.
type CanonicalQuantities struct {
	QuantityEach float64
	Packs        float64
	UnitsPerPack float64

	QuantityML *float64
	QuantityL  *float64
	QuantityG  *float64

	UnitSizeML *float64
	UnitSizeL  *float64
	UnitSizeG  *float64

	UOMKey string
	Flags  FlagSet
}

// HasVolume reports whether a volume quantity was resolved.
func (c CanonicalQuantities) HasVolume() bool { return c.QuantityML != nil || c.QuantityL != nil }

// HasWeight reports whether a weight quantity was resolved.
func (c CanonicalQuantities) HasWeight() bool { return c.QuantityG != nil }

// LineVerdict is the immutable evaluation record produced for one line.
// A re-evaluation with any changed input produces a new record with a new
// fingerprint; records are never updated in place.
type LineVerdict struct {
	InvoiceID  string
	LineID     string
	SKUID      string
	SupplierID string

	Verdict  Verdict
	Severity Severity
	Flags    []Flag

	Hypothesis    string
	ImpliedValue  *float64
	ExpectedValue *float64
	Residual      *float64

	RulesetID       string
	EngineVersion   string
	LineFingerprint string

	CreatedAt time.Time
}

func floatPtr(v float64) *float64 { return &v }
