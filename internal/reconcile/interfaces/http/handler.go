package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"reconcile-cloud/internal/explain"
	"reconcile-cloud/internal/observability/metrics"
	"reconcile-cloud/internal/reconcile/application"
	reconcile "reconcile-cloud/internal/reconcile/domain"
	"reconcile-cloud/internal/reconcile/interfaces"
)

// Handler provides invoice evaluation and verdict HTTP endpoints.
type Handler struct {
	service   *application.LineEvaluationService
	explainer *explain.Explainer
}

// NewHandler constructs a handler. The explainer is optional; without one
// explanations fall back to the deterministic templates.
func NewHandler(service *application.LineEvaluationService, explainer *explain.Explainer) (*Handler, error) {
	if service == nil {
		return nil, errors.New("reconcile handler: nil service")
	}
	return &Handler{service: service, explainer: explainer}, nil
}

// ServeHTTP handles /api/v1/invoices, /api/v1/verdicts and /api/v1/duplicates.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/invoices/evaluate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEvaluate(w, r)
		return
	case r.URL.Path == "/api/v1/verdicts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleListVerdicts(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/verdicts/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleVerdict(w, r)
		return
	case r.URL.Path == "/api/v1/duplicates":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDuplicates(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/invoices/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

type lineRequest struct {
	LineID      string     `json:"line_id"`
	Description string     `json:"description"`
	Quantity    float64    `json:"quantity"`
	UnitPrice   float64    `json:"unit_price"`
	LineTotal   float64    `json:"line_total"`
	SKUID       string     `json:"sku_id,omitempty"`
	UOMKey      string     `json:"uom_key,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type evaluateRequest struct {
	InvoiceID    string        `json:"invoice_id"`
	SupplierID   string        `json:"supplier_id"`
	Date         time.Time     `json:"date"`
	Subtotal     *float64      `json:"subtotal,omitempty"`
	VATAmount    *float64      `json:"vat_amount,omitempty"`
	VATRate      *float64      `json:"vat_rate,omitempty"`
	InvoiceTotal *float64      `json:"invoice_total,omitempty"`
	Lines        []lineRequest `json:"lines"`
}

type verdictResponse struct {
	InvoiceID       string    `json:"invoice_id"`
	LineID          string    `json:"line_id"`
	SKUID           string    `json:"sku_id,omitempty"`
	SupplierID      string    `json:"supplier_id,omitempty"`
	Verdict         string    `json:"verdict"`
	Severity        string    `json:"severity"`
	Flags           []string  `json:"flags,omitempty"`
	Hypothesis      string    `json:"hypothesis,omitempty"`
	ImpliedValue    *float64  `json:"implied_value,omitempty"`
	ExpectedValue   *float64  `json:"expected_value,omitempty"`
	Residual        *float64  `json:"residual,omitempty"`
	RulesetID       string    `json:"ruleset_id"`
	EngineVersion   string    `json:"engine_version"`
	LineFingerprint string    `json:"line_fingerprint"`
	CreatedAt       time.Time `json:"created_at"`
}

type lineResultResponse struct {
	Verdict     verdictResponse   `json:"verdict"`
	DuplicateOf []string          `json:"duplicate_of,omitempty"`
	Explanation *explain.Response `json:"explanation,omitempty"`
}

type evaluationResponse struct {
	InvoiceID    string               `json:"invoice_id"`
	RulesetID    string               `json:"ruleset_id"`
	Results      []lineResultResponse `json:"results"`
	InvoiceFlags []string             `json:"invoice_flags,omitempty"`
	SkippedLines []string             `json:"skipped_lines,omitempty"`
	EvaluatedAt  time.Time            `json:"evaluated_at"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.InvoiceID == "" {
		http.Error(w, "invoice_id is required", http.StatusBadRequest)
		return
	}
	if len(req.Lines) == 0 {
		http.Error(w, "lines are required", http.StatusBadRequest)
		return
	}

	appReq := application.EvaluateInvoiceRequest{
		InvoiceID:    req.InvoiceID,
		SupplierID:   req.SupplierID,
		Date:         req.Date.UTC(),
		Subtotal:     req.Subtotal,
		VATAmount:    req.VATAmount,
		VATRate:      req.VATRate,
		InvoiceTotal: req.InvoiceTotal,
	}
	for _, line := range req.Lines {
		raw := reconcile.RawLine{
			LineID:      line.LineID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
			SKUID:       line.SKUID,
			UOMKey:      line.UOMKey,
		}
		if line.Date != nil {
			raw.Date = line.Date.UTC()
		}
		appReq.Lines = append(appReq.Lines, raw)
	}

	eval, err := h.service.EvaluateInvoice(r.Context(), appReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	withExplanations := r.URL.Query().Get("explain") == "1"
	response := evaluationResponse{
		InvoiceID:    eval.InvoiceID,
		RulesetID:    eval.RulesetID,
		InvoiceFlags: flagStrings(eval.InvoiceFlags),
		SkippedLines: eval.SkippedLines,
		EvaluatedAt:  eval.EvaluatedAt,
	}
	for _, result := range eval.Results {
		item := lineResultResponse{
			Verdict:     toVerdictResponse(result.Verdict),
			DuplicateOf: result.DuplicateOf,
		}
		if withExplanations {
			explanation := h.explain(r, result.Verdict)
			item.Explanation = &explanation
		}
		response.Results = append(response.Results, item)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.URL.Query().Get("invoice_id")
	if invoiceID == "" {
		http.Error(w, "invoice_id is required", http.StatusBadRequest)
		return
	}
	verdicts, err := h.service.ListVerdicts(r.Context(), invoiceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]verdictResponse, 0, len(verdicts))
	for _, verdict := range verdicts {
		response = append(response, toVerdictResponse(verdict))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleVerdict serves /api/v1/verdicts/{invoice}/{line} and the explain
// subroute /api/v1/verdicts/{invoice}/{line}/explain.
func (h *Handler) handleVerdict(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/verdicts/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts) > 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 3 && parts[2] != "explain" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	verdict, err := h.service.GetLine(r.Context(), parts[0], parts[1])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if verdict == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(parts) == 3 {
		explanation := h.explain(r, *verdict)
		_ = json.NewEncoder(w).Encode(explanation)
		return
	}
	_ = json.NewEncoder(w).Encode(toVerdictResponse(*verdict))
}

func (h *Handler) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.URL.Query().Get("fingerprint")
	if fingerprint == "" {
		http.Error(w, "fingerprint is required", http.StatusBadRequest)
		return
	}
	verdicts, err := h.service.FindByFingerprint(r.Context(), fingerprint)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]verdictResponse, 0, len(verdicts))
	for _, verdict := range verdicts {
		response = append(response, toVerdictResponse(verdict))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleExport serves /api/v1/invoices/{invoice}/export.{csv,xlsx,pdf}.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "export.") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	invoiceID := parts[0]
	format := strings.TrimPrefix(parts[1], "export.")

	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReportExport(format, result, time.Since(start))
	}()

	verdicts, err := h.service.ListVerdicts(r.Context(), invoiceID)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(verdicts) == 0 {
		result = metrics.ResultError
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "csv":
		data, err = interfaces.BuildVerdictsCSV(invoiceID, verdicts)
		contentType = "text/csv"
	case "xlsx":
		data, err = interfaces.BuildVerdictsXLSX(invoiceID, verdicts)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = interfaces.BuildVerdictsPDF(invoiceID, verdicts)
		contentType = "application/pdf"
	default:
		result = metrics.ResultError
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="verdicts-`+invoiceID+`.`+format+`"`)
	_, _ = w.Write(data)
}

func (h *Handler) explain(r *http.Request, verdict reconcile.LineVerdict) explain.Response {
	facts := explain.Facts{
		Verdict:      verdict.Verdict,
		Hypothesis:   verdict.Hypothesis,
		ImpliedValue: verdict.ImpliedValue,
		Residual:     verdict.Residual,
		SKUID:        verdict.SKUID,
		SupplierID:   verdict.SupplierID,
	}
	if h.explainer == nil {
		return explain.Deterministic(facts)
	}
	return h.explainer.Explain(r.Context(), facts, verdict.LineFingerprint)
}

func toVerdictResponse(verdict reconcile.LineVerdict) verdictResponse {
	return verdictResponse{
		InvoiceID:       verdict.InvoiceID,
		LineID:          verdict.LineID,
		SKUID:           verdict.SKUID,
		SupplierID:      verdict.SupplierID,
		Verdict:         string(verdict.Verdict),
		Severity:        string(verdict.Severity),
		Flags:           flagStrings(verdict.Flags),
		Hypothesis:      verdict.Hypothesis,
		ImpliedValue:    verdict.ImpliedValue,
		ExpectedValue:   verdict.ExpectedValue,
		Residual:        verdict.Residual,
		RulesetID:       verdict.RulesetID,
		EngineVersion:   verdict.EngineVersion,
		LineFingerprint: verdict.LineFingerprint,
		CreatedAt:       verdict.CreatedAt,
	}
}

func flagStrings(flags []reconcile.Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	values := make([]string, len(flags))
	for i, flag := range flags {
		values[i] = string(flag)
	}
	return values
}
