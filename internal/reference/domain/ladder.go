package reference

import (
	"sort"
	"time"
)

// SourceClass names a rung of the price-reference ladder.
type SourceClass string

const (
	SourceContractBook   SourceClass = "contract_book"
	SourceSupplierMaster SourceClass = "supplier_master"
	SourceVenueMemory    SourceClass = "venue_memory"
	SourceInvoiceUnit    SourceClass = "invoice_unit"
	SourcePeerSibling    SourceClass = "peer_sibling"
)

// NormalizeSourceClass validates and normalizes a source class string.
func NormalizeSourceClass(value string) (SourceClass, bool) {
	switch SourceClass(value) {
	case SourceContractBook, SourceSupplierMaster, SourceVenueMemory, SourceInvoiceUnit, SourcePeerSibling:
		return SourceClass(value), true
	default:
		return "", false
	}
}

// SourceWeight is the trust profile of a source class. Base weight decays
// by PenaltyPerDay for every day between capture and the reference date.
type SourceWeight struct {
	Base          float64
	PenaltyPerDay float64
}

// LadderConfig carries trust weights and the conflict threshold.
type LadderConfig struct {
	Weights           map[SourceClass]SourceWeight
	ConflictThreshold float64
}

// DefaultLadderConfig returns production trust defaults. Contracted prices
// outrank catalogue data, which outranks observed history.
func DefaultLadderConfig() LadderConfig {
	return LadderConfig{
		Weights: map[SourceClass]SourceWeight{
			SourceContractBook:   {Base: 1.0, PenaltyPerDay: 0.002},
			SourceSupplierMaster: {Base: 0.8, PenaltyPerDay: 0.004},
			SourceVenueMemory:    {Base: 0.6, PenaltyPerDay: 0.01},
			SourceInvoiceUnit:    {Base: 0.4, PenaltyPerDay: 0},
			SourcePeerSibling:    {Base: 0.3, PenaltyPerDay: 0.02},
		},
		ConflictThreshold: 0.08,
	}
}

// PriceSource is one price reference for a SKU/supplier pair.
type PriceSource struct {
	Class      SourceClass
	Value      float64
	UOMKey     string
	CapturedAt time.Time
	SourceHash string
}

// WeightedSource pairs a source with its staleness-adjusted weight.
type WeightedSource struct {
	PriceSource
	Weight           float64
	StalenessPenalty float64
}

// Ladder holds weighted price references at a fixed reference date.
type Ladder struct {
	cfg       LadderConfig
	reference time.Time
	sources   []WeightedSource
}

// NewLadder constructs an empty ladder.
func NewLadder(cfg LadderConfig, referenceDate time.Time) (*Ladder, error) {
	if len(cfg.Weights) == 0 || cfg.ConflictThreshold <= 0 {
		return nil, ErrInvalidLadderConfig
	}
	if referenceDate.IsZero() {
		referenceDate = time.Now().UTC()
	}
	return &Ladder{cfg: cfg, reference: referenceDate}, nil
}

// Add weighs a source against the reference date and records it. Sources
// of an unknown class get zero weight and never influence the median.
func (l *Ladder) Add(src PriceSource) {
	weighted := WeightedSource{PriceSource: src}
	if profile, ok := l.cfg.Weights[src.Class]; ok {
		days := int(l.reference.Sub(src.CapturedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		weighted.StalenessPenalty = profile.PenaltyPerDay * float64(days)
		weighted.Weight = profile.Base - weighted.StalenessPenalty
		if weighted.Weight < 0 {
			weighted.Weight = 0
		}
	}
	l.sources = append(l.sources, weighted)
}

// Sources returns all recorded sources with their weights.
func (l *Ladder) Sources() []WeightedSource {
	return l.sources
}

// WeightedMedian returns the weighted median price across sources with
// positive weight. The second return is false when no source qualifies.
func (l *Ladder) WeightedMedian() (float64, bool) {
	valid := l.validSources()
	if len(valid) == 0 {
		return 0, false
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Value < valid[j].Value })

	var total float64
	for _, src := range valid {
		total += src.Weight
	}
	if total == 0 {
		return 0, false
	}

	target := total / 2
	var cumulative float64
	for _, src := range valid {
		cumulative += src.Weight
		if cumulative >= target {
			return src.Value, true
		}
	}
	return valid[len(valid)-1].Value, true
}

// HasConflict reports whether the two most trusted sources diverge beyond
// the conflict threshold, either from each other or from the weighted
// median.
func (l *Ladder) HasConflict() bool {
	if len(l.sources) < 2 {
		return false
	}
	ranked := make([]WeightedSource, len(l.sources))
	copy(ranked, l.sources)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Weight > ranked[j].Weight })

	top, second := ranked[0], ranked[1]
	if top.Weight == 0 || second.Weight == 0 || top.Value == 0 {
		return false
	}

	if median, ok := l.WeightedMedian(); ok && median > 0 {
		for _, src := range ranked[:2] {
			if src.Value <= 0 {
				continue
			}
			if abs(src.Value-median)/median > l.cfg.ConflictThreshold {
				return true
			}
		}
	}

	return abs(top.Value-second.Value)/top.Value > l.cfg.ConflictThreshold
}

func (l *Ladder) validSources() []WeightedSource {
	var valid []WeightedSource
	for _, src := range l.sources {
		if src.Weight > 0 {
			valid = append(valid, src)
		}
	}
	return valid
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
