package explain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	reconcile "reconcile-cloud/internal/reconcile/domain"
)

// Action is one suggested follow-up for a verdict.
type Action struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// Response is the strict explanation schema. Every explanation, whether
// templated or model-generated, must satisfy Validate before it is used.
type Response struct {
	Headline         string   `json:"headline"`
	Explanation      string   `json:"explanation"`
	SuggestedActions []Action `json:"suggested_actions"`
	EngineVerdict    string   `json:"engine_verdict"`
	EngineFactsHash  string   `json:"engine_facts_hash"`
	ModelID          string   `json:"model_id"`
	PromptHash       string   `json:"prompt_hash,omitempty"`
	ResponseHash     string   `json:"response_hash,omitempty"`
}

// Validate checks the schema bounds.
func (r Response) Validate() error {
	if r.Headline == "" || len(r.Headline) > 100 {
		return errors.New("explain: headline must be 1-100 characters")
	}
	if r.Explanation == "" || len(r.Explanation) > 500 {
		return errors.New("explain: explanation must be 1-500 characters")
	}
	if len(r.SuggestedActions) == 0 || len(r.SuggestedActions) > 3 {
		return errors.New("explain: 1-3 suggested actions required")
	}
	for _, action := range r.SuggestedActions {
		if action.Label == "" || action.Reason == "" {
			return errors.New("explain: action label and reason required")
		}
	}
	if r.EngineVerdict == "" {
		return errors.New("explain: engine verdict required")
	}
	return nil
}

// Facts are the engine outputs an explanation must stay consistent with.
type Facts struct {
	Verdict      reconcile.Verdict
	Hypothesis   string
	ImpliedValue *float64
	Residual     *float64
	SKUID        string
	SupplierID   string
}

// FactsHash returns a deterministic digest of the engine facts. Keys are
// serialised in a fixed order so the hash is stable across processes.
func FactsHash(f Facts) string {
	payload := struct {
		EngineVersion string   `json:"engine_version"`
		Hypothesis    string   `json:"hypothesis"`
		ImpliedValue  *float64 `json:"implied_value"`
		Residual      *float64 `json:"residual"`
		SKUID         string   `json:"sku_id"`
		SupplierID    string   `json:"supplier_id"`
		Verdict       string   `json:"verdict"`
	}{
		EngineVersion: reconcile.EngineVersion,
		Hypothesis:    f.Hypothesis,
		ImpliedValue:  f.ImpliedValue,
		Residual:      f.Residual,
		SKUID:         f.SKUID,
		SupplierID:    f.SupplierID,
		Verdict:       string(f.Verdict),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const deterministicModelID = "deterministic"

// Deterministic returns the templated explanation for a verdict. It is
// total over the verdict enum and never fails.
func Deterministic(f Facts) Response {
	headline, explanation, actions := template(f)
	return Response{
		Headline:         headline,
		Explanation:      explanation,
		SuggestedActions: actions,
		EngineVerdict:    string(f.Verdict),
		EngineFactsHash:  FactsHash(f),
		ModelID:          deterministicModelID,
	}
}

func template(f Facts) (string, string, []Action) {
	switch f.Verdict {
	case reconcile.VerdictMathMismatch:
		residual := 0.0
		if f.Residual != nil {
			residual = *f.Residual
		}
		return "Mathematical inconsistency detected",
			fmt.Sprintf("Line total does not match unit price x quantity. Difference: £%.2f.", residual),
			[]Action{
				{Label: "Review OCR accuracy", Reason: "Check if numbers were misread"},
				{Label: "Verify line totals", Reason: "Confirm manual calculations"},
			}
	case reconcile.VerdictReferenceConflict:
		return "Conflicting price references",
			fmt.Sprintf("Different price sources disagree for %s. Manual review required.", f.SKUID),
			[]Action{
				{Label: "Check contract terms", Reason: "Verify current pricing agreement"},
				{Label: "Contact supplier", Reason: "Clarify pricing discrepancy"},
			}
	case reconcile.VerdictUOMMismatch:
		return "Unit of measure confusion suspected",
			fmt.Sprintf("Price difference may be due to pack size confusion for %s.", f.SKUID),
			[]Action{
				{Label: "Verify pack sizes", Reason: "Check if case vs unit pricing"},
				{Label: "Update UOM mapping", Reason: "Correct unit definitions"},
			}
	case reconcile.VerdictOffContract:
		value := 0.0
		if f.ImpliedValue != nil {
			value = *f.ImpliedValue
		}
		return fmt.Sprintf("Off-contract discount detected (%.1f%%)", value),
			fmt.Sprintf("Price differs from contract terms for %s.", f.SKUID),
			[]Action{
				{Label: "Verify discount approval", Reason: "Check if discount is authorised"},
				{Label: "Update contract", Reason: "Record new pricing terms"},
			}
	case reconcile.VerdictUnusualVsHistory:
		return "Unusual pricing vs history",
			fmt.Sprintf("Price for %s differs significantly from historical patterns.", f.SKUID),
			[]Action{
				{Label: "Review price change", Reason: "Check if change is expected"},
				{Label: "Update price history", Reason: "Record new baseline"},
			}
	case reconcile.VerdictOCRSuspected:
		return "OCR error suspected",
			fmt.Sprintf("Numbers may have been misread during extraction for %s.", f.SKUID),
			[]Action{
				{Label: "Review original document", Reason: "Check image quality and clarity"},
				{Label: "Re-process the document", Reason: "Try alternative extraction settings"},
			}
	case reconcile.VerdictOKOnContract:
		return "Price within contract terms",
			fmt.Sprintf("Price for %s matches expected contract pricing.", f.SKUID),
			[]Action{
				{Label: "No action required", Reason: "Price is acceptable"},
			}
	case reconcile.VerdictNeedsUserRule:
		return "Requires manual review",
			fmt.Sprintf("Complex pricing scenario for %s needs human judgement.", f.SKUID),
			[]Action{
				{Label: "Review pricing logic", Reason: "Apply business rules manually"},
				{Label: "Create pricing rule", Reason: "Add rule for future automation"},
			}
	default:
		return "Pricing anomaly not explained",
			fmt.Sprintf("Price difference for %s cannot be explained by current models.", f.SKUID),
			[]Action{
				{Label: "Investigate manually", Reason: "Review supplier communication"},
				{Label: "Add new model", Reason: "Consider new discount type"},
			}
	}
}
