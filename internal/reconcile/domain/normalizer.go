package reconcile

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NormalizerConfig carries unit-conversion ratios and fixed container sizes.
// Values are read-only after construction.
type NormalizerConfig struct {
	MLPerLitre float64
	MLPerCL    float64
	GPerKG     float64

	KegLitres  float64
	CaskLitres float64
	PinLitres  float64

	FOCTerms []string
}

// DefaultNormalizerConfig returns UK beverage-trade defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MLPerLitre: 1000,
		MLPerCL:    10,
		GPerKG:     1000,
		KegLitres:  50.0,
		CaskLitres: 40.9,
		PinLitres:  20.45,
		FOCTerms:   []string{"foc", "free", "sample", "complimentary", "gratis"},
	}
}

// Normalizer parses free-text pack/size descriptors into canonical
// quantities. Parsing is an ordered rule list; the first rule that matches
// wins. Canonicalize never fails: unparseable input degrades to a
// best-effort record carrying SIZE_AMBIGUOUS.
type Normalizer struct {
	cfg   NormalizerConfig
	rules []parseRule
}

type parseRule struct {
	name  string
	re    *regexp.Regexp
	apply func(n *Normalizer, baseQty float64, m []string, out *CanonicalQuantities)
}

// NewNormalizer constructs a normalizer with compiled rules.
func NewNormalizer(cfg NormalizerConfig) (*Normalizer, error) {
	if cfg.MLPerLitre <= 0 || cfg.MLPerCL <= 0 || cfg.GPerKG <= 0 {
		return nil, ErrInvalidNormalizerConfig
	}
	if cfg.KegLitres <= 0 || cfg.CaskLitres <= 0 || cfg.PinLitres <= 0 {
		return nil, ErrInvalidNormalizerConfig
	}
	n := &Normalizer{cfg: cfg}
	n.rules = []parseRule{
		// Case shorthand: C6, C12, C24.
		{
			name:  "case_shorthand",
			re:    regexp.MustCompile(`\bc(\d+)\b`),
			apply: applyCaseShorthand,
		},
		// Gallon-keg shorthand, limited to the trade's keg sizes: 5g, 9g,
		// 11g, 22g. Any other <N>g token is a gram weight and falls through
		// to the size rules below.
		{
			name:  "gallon_keg",
			re:    regexp.MustCompile(`\b(?:5|9|11|22)g\b`),
			apply: applyGallonKeg,
		},
		// Dozen multiples.
		{
			name:  "dozen",
			re:    regexp.MustCompile(`\bdozen\b`),
			apply: applyDozen,
		},
		// Nested pack: 2 x (24 x 275ml).
		{
			name:  "nested_pack",
			re:    regexp.MustCompile(`(\d+)\s*[x×]\s*\(\s*(\d+)\s*[x×]\s*(\d+(?:[.,]\d+)?)\s*(ml|cl|l|g|kg)\s*\)`),
			apply: applyNestedPack,
		},
		// Pack times size: 24x275ml, 12×330 ml.
		{
			name:  "pack_size",
			re:    regexp.MustCompile(`(\d+)\s*[x×]\s*(\d+(?:[.,]\d+)?)\s*(ml|cl|l|g|kg)\b`),
			apply: applyPackSize,
		},
		// Container with explicit size: 50L Keg. The stated size wins over
		// the generic container default.
		{
			name:  "container_sized",
			re:    regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(ml|cl|l)\s*(keg|cask|pin)\b`),
			apply: applyContainerSized,
		},
		// Bare pack multiplier with no size: 24x. Ambiguous but the
		// multiplier is still recorded.
		{
			name:  "bare_multiplier",
			re:    regexp.MustCompile(`\b(\d+)\s*[x×]`),
			apply: applyBareMultiplier,
		},
		// Simple size with no multiplier: 70cl, 1L, 330 ML.
		{
			name:  "simple_size",
			re:    regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(ml|cl|l|g|kg)\b`),
			apply: applySimpleSize,
		},
		// Generic container with no size falls back to fixed litres.
		{
			name:  "container_generic",
			re:    regexp.MustCompile(`\b(keg|cask|pin)\b`),
			apply: applyContainerGeneric,
		},
		// Textual pack forms: pack of 6, case of 12.
		{
			name:  "pack_of",
			re:    regexp.MustCompile(`\b(?:pack|case)\s+of\s+(\d+)\b`),
			apply: applyPackOf,
		},
	}
	return n, nil
}

// Canonicalize turns a base count plus a descriptor string into canonical
// quantities. It is pure and idempotent.
func (n *Normalizer) Canonicalize(baseQty float64, description string) CanonicalQuantities {
	out := CanonicalQuantities{
		QuantityEach: baseQty,
		Packs:        1,
		UnitsPerPack: baseQty,
		Flags:        NewFlagSet(),
	}
	if n == nil {
		out.Flags.Add(FlagSizeAmbiguous)
		return out
	}

	desc := strings.ToLower(strings.TrimSpace(description))

	matched := false
	for _, rule := range n.rules {
		m := rule.re.FindStringSubmatch(desc)
		if m == nil {
			continue
		}
		rule.apply(n, baseQty, m, &out)
		matched = true
		break
	}

	// FOC detection runs regardless of structural parse outcome.
	for _, term := range n.cfg.FOCTerms {
		if strings.Contains(desc, term) {
			out.Flags.Add(FlagFOCLine)
			break
		}
	}

	if !matched {
		out.Flags.Add(FlagSizeAmbiguous)
	}
	return out
}

func applyCaseShorthand(_ *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	units := parseSize(m[1])
	out.Packs = baseQty
	out.UnitsPerPack = units
	out.QuantityEach = round2(baseQty * units)
	out.UOMKey = "case"
}

func applyGallonKeg(n *Normalizer, baseQty float64, _ []string, out *CanonicalQuantities) {
	n.setContainer(baseQty, n.cfg.KegLitres, "keg", out)
}

func applyDozen(_ *Normalizer, baseQty float64, _ []string, out *CanonicalQuantities) {
	out.Packs = baseQty
	out.UnitsPerPack = 12
	out.QuantityEach = round2(baseQty * 12)
	out.UOMKey = "dozen"
}

func applyNestedPack(n *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	outer := parseSize(m[1])
	inner := parseSize(m[2])
	size := parseSize(m[3])
	out.Packs = round2(baseQty * outer)
	out.UnitsPerPack = inner
	out.QuantityEach = round2(baseQty * outer * inner)
	n.setSize(size, m[4], out)
}

func applyPackSize(n *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	mult := parseSize(m[1])
	size := parseSize(m[2])
	out.Packs = baseQty
	out.UnitsPerPack = mult
	out.QuantityEach = round2(baseQty * mult)
	n.setSize(size, m[3], out)
}

func applyContainerSized(n *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	size := parseSize(m[1])
	litres := 0.0
	switch m[2] {
	case "ml":
		litres = size / n.cfg.MLPerLitre
	case "cl":
		litres = size * n.cfg.MLPerCL / n.cfg.MLPerLitre
	case "l":
		litres = size
	}
	n.setContainer(baseQty, litres, m[3], out)
}

func applyBareMultiplier(_ *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	mult := parseSize(m[1])
	out.Packs = baseQty
	out.UnitsPerPack = mult
	out.QuantityEach = round2(baseQty * mult)
	out.Flags.Add(FlagSizeAmbiguous)
}

func applySimpleSize(n *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	size := parseSize(m[1])
	out.Packs = baseQty
	out.UnitsPerPack = 1
	out.QuantityEach = baseQty
	n.setSize(size, m[2], out)
}

func applyContainerGeneric(n *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	litres := n.containerLitres(m[1])
	n.setContainer(baseQty, litres, m[1], out)
}

func applyPackOf(_ *Normalizer, baseQty float64, m []string, out *CanonicalQuantities) {
	units := parseSize(m[1])
	out.Packs = baseQty
	out.UnitsPerPack = units
	out.QuantityEach = round2(baseQty * units)
	out.UOMKey = "pack"
}

// setSize applies a per-unit size in the given source unit, converting to
// canonical ml/l or g, and derives total volume/weight from QuantityEach.
func (n *Normalizer) setSize(size float64, unit string, out *CanonicalQuantities) {
	switch unit {
	case "ml", "cl", "l":
		sizeML := size
		switch unit {
		case "cl":
			sizeML = size * n.cfg.MLPerCL
		case "l":
			sizeML = size * n.cfg.MLPerLitre
		}
		quantityML := round2(out.QuantityEach * sizeML)
		out.UnitSizeML = floatPtr(round2(sizeML))
		out.UnitSizeL = floatPtr(round2(sizeML / n.cfg.MLPerLitre))
		out.QuantityML = floatPtr(quantityML)
		out.QuantityL = floatPtr(round2(quantityML / n.cfg.MLPerLitre))
		out.UOMKey = "volume_" + unit
	case "g", "kg":
		sizeG := size
		if unit == "kg" {
			sizeG = size * n.cfg.GPerKG
		}
		out.UnitSizeG = floatPtr(round2(sizeG))
		out.QuantityG = floatPtr(round2(out.QuantityEach * sizeG))
		out.UOMKey = "weight_" + unit
	}
}

// setContainer records a fixed-volume container line.
func (n *Normalizer) setContainer(baseQty, litres float64, container string, out *CanonicalQuantities) {
	out.Packs = baseQty
	out.UnitsPerPack = 1
	out.QuantityEach = baseQty
	out.UnitSizeL = floatPtr(round2(litres))
	out.UnitSizeML = floatPtr(round2(litres * n.cfg.MLPerLitre))
	quantityL := round2(baseQty * litres)
	out.QuantityL = floatPtr(quantityL)
	out.QuantityML = floatPtr(round2(quantityL * n.cfg.MLPerLitre))
	out.UOMKey = "container_" + container
}

func (n *Normalizer) containerLitres(container string) float64 {
	switch container {
	case "cask":
		return n.cfg.CaskLitres
	case "pin":
		return n.cfg.PinLitres
	default:
		return n.cfg.KegLitres
	}
}

// parseSize parses a numeric token accepting both "." and "," decimal
// separators. Malformed tokens yield zero rather than an error; the regex
// capture guarantees digits.
func parseSize(token string) float64 {
	token = strings.ReplaceAll(token, ",", ".")
	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0
	}
	return value
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
