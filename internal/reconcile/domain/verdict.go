package reconcile

// Verdict is the single final classification of a line item's pricing
// status, drawn from a closed, totally ordered taxonomy.
type Verdict string

const (
	VerdictMathMismatch       Verdict = "math_mismatch"
	VerdictReferenceConflict  Verdict = "reference_conflict"
	VerdictUOMMismatch        Verdict = "uom_mismatch_suspected"
	VerdictOffContract        Verdict = "off_contract_discount"
	VerdictUnusualVsHistory   Verdict = "unusual_vs_history"
	VerdictOCRSuspected       Verdict = "ocr_suspected_error"
	VerdictOKOnContract       Verdict = "ok_on_contract"
	VerdictNeedsUserRule      Verdict = "needs_user_rule"
	VerdictAnomalyUnmodelled  Verdict = "pricing_anomaly_unmodelled"
)

// Severity is display/triage metadata for a verdict. It plays no part in
// the decision logic.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// SeverityOf returns the triage class for a verdict.
func (v Verdict) SeverityOf() Severity {
	switch v {
	case VerdictMathMismatch, VerdictReferenceConflict:
		return SeverityCritical
	case VerdictUOMMismatch, VerdictOffContract, VerdictOCRSuspected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Signals are externally supplied boolean evidence inputs for the
// classifier (reference ladder, history model, OCR quality gate).
type Signals struct {
	ReferenceConflict bool
	UOMMismatch       bool
	OffContract       bool
	UnusualHistory    bool
	OCRError          bool
}

// Classifier maps evidence to exactly one verdict in strict priority
// order. Identical inputs always yield the identical verdict.
type Classifier struct{}

// NewClassifier constructs a classifier.
func NewClassifier() Classifier { return Classifier{} }

// Assign evaluates conditions in fixed priority order and stops at the
// first satisfied one. The fallback branch guarantees totality.
func (Classifier) Assign(flags FlagSet, signals Signals, discount *DiscountResult) Verdict {
	switch {
	case flags.HasAny(FlagPriceIncoherent, FlagPackMismatch, FlagVATMismatch):
		return VerdictMathMismatch
	case signals.ReferenceConflict:
		return VerdictReferenceConflict
	case signals.UOMMismatch:
		return VerdictUOMMismatch
	case signals.OffContract:
		return VerdictOffContract
	case signals.UnusualHistory:
		return VerdictUnusualVsHistory
	case signals.OCRError:
		return VerdictOCRSuspected
	case discount != nil && discount.ResidualPennies <= 1:
		return VerdictOKOnContract
	case discount != nil && !discount.Kind.Modelled():
		return VerdictNeedsUserRule
	default:
		return VerdictAnomalyUnmodelled
	}
}
