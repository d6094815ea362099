package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reconcile-cloud/internal/explain"
	"reconcile-cloud/internal/reconcile/application"
	reconcile "reconcile-cloud/internal/reconcile/domain"
	"reconcile-cloud/internal/reconcile/infrastructure/memory"
)

func newTestHandler(t *testing.T) (*Handler, *memory.VerdictRepository) {
	t.Helper()
	repo := memory.NewVerdictRepository()
	service, err := application.NewLineEvaluationService(
		application.Config{RulesetID: "uk-hospitality-v1"}, repo, nil, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(service, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, repo
}

func evaluateBody(t *testing.T, invoiceID string) *bytes.Buffer {
	t.Helper()
	body := map[string]any{
		"invoice_id":  invoiceID,
		"supplier_id": "SUP-42",
		"date":        "2026-08-01T00:00:00Z",
		"lines": []map[string]any{
			{
				"line_id":     "L1",
				"description": "Tia Maria 70cl",
				"quantity":    1.0,
				"unit_price":  60.55,
				"line_total":  32.22,
				"sku_id":      "TIA001",
			},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(data)
}

func postEvaluate(t *testing.T, handler *Handler, invoiceID string) evaluationResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/evaluate", evaluateBody(t, invoiceID))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d: %s", resp.Code, resp.Body.String())
	}
	var eval evaluationResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &eval); err != nil {
		t.Fatalf("decode evaluation: %v", err)
	}
	return eval
}

func TestHandlerEvaluate(t *testing.T) {
	handler, repo := newTestHandler(t)

	eval := postEvaluate(t, handler, "INV-1")
	if eval.InvoiceID != "INV-1" {
		t.Fatalf("invoice id = %q", eval.InvoiceID)
	}
	if len(eval.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(eval.Results))
	}
	verdict := eval.Results[0].Verdict
	if verdict.Verdict != string(reconcile.VerdictOKOnContract) {
		t.Fatalf("verdict = %q", verdict.Verdict)
	}
	if verdict.LineFingerprint == "" {
		t.Fatalf("fingerprint missing from response")
	}
	if repo.Len() != 1 {
		t.Fatalf("persisted verdicts = %d, want 1", repo.Len())
	}
}

func TestHandlerEvaluateRejectsBadRequests(t *testing.T) {
	handler, _ := newTestHandler(t)

	cases := map[string]string{
		"not json":   "{",
		"no invoice": `{"lines":[{"line_id":"L1"}]}`,
		"no lines":   `{"invoice_id":"INV-1"}`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/evaluate", strings.NewReader(body))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, resp.Code)
		}
	}
}

func TestHandlerEvaluateMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/evaluate", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Code)
	}
}

func TestHandlerListVerdicts(t *testing.T) {
	handler, _ := newTestHandler(t)
	postEvaluate(t, handler, "INV-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verdicts?invoice_id=INV-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	var verdicts []verdictResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &verdicts); err != nil {
		t.Fatalf("decode verdicts: %v", err)
	}
	if len(verdicts) != 1 || verdicts[0].LineID != "L1" {
		t.Fatalf("verdicts = %+v", verdicts)
	}
}

func TestHandlerListVerdictsRequiresInvoiceID(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verdicts", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestHandlerGetVerdict(t *testing.T) {
	handler, _ := newTestHandler(t)
	postEvaluate(t, handler, "INV-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/INV-1/L1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	var verdict verdictResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.InvoiceID != "INV-1" || verdict.LineID != "L1" {
		t.Fatalf("verdict = %+v", verdict)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/INV-1/missing", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing line status = %d, want 404", resp.Code)
	}
}

func TestHandlerExplainVerdict(t *testing.T) {
	handler, _ := newTestHandler(t)
	postEvaluate(t, handler, "INV-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/INV-1/L1/explain", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	var explanation explain.Response
	if err := json.Unmarshal(resp.Body.Bytes(), &explanation); err != nil {
		t.Fatalf("decode explanation: %v", err)
	}
	if err := explanation.Validate(); err != nil {
		t.Fatalf("explanation invalid: %v", err)
	}
	if explanation.EngineVerdict != string(reconcile.VerdictOKOnContract) {
		t.Fatalf("explanation verdict = %q", explanation.EngineVerdict)
	}
}

func TestHandlerDuplicates(t *testing.T) {
	handler, _ := newTestHandler(t)
	first := postEvaluate(t, handler, "INV-1")
	second := postEvaluate(t, handler, "INV-2")

	if len(second.Results[0].DuplicateOf) != 1 || second.Results[0].DuplicateOf[0] != "INV-1/L1" {
		t.Fatalf("duplicate_of = %v", second.Results[0].DuplicateOf)
	}

	fingerprint := first.Results[0].Verdict.LineFingerprint
	req := httptest.NewRequest(http.MethodGet, "/api/v1/duplicates?fingerprint="+fingerprint, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	var verdicts []verdictResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &verdicts); err != nil {
		t.Fatalf("decode verdicts: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("fingerprint matches = %d, want 2", len(verdicts))
	}
}

func TestHandlerExports(t *testing.T) {
	handler, _ := newTestHandler(t)
	postEvaluate(t, handler, "INV-1")

	cases := map[string]string{
		"export.csv":  "text/csv",
		"export.xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"export.pdf":  "application/pdf",
	}
	for suffix, contentType := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/INV-1/"+suffix, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: status = %d: %s", suffix, resp.Code, resp.Body.String())
		}
		if got := resp.Header().Get("Content-Type"); got != contentType {
			t.Fatalf("%s: content type = %q, want %q", suffix, got, contentType)
		}
		if resp.Body.Len() == 0 {
			t.Fatalf("%s: empty export body", suffix)
		}
	}
}

func TestHandlerExportUnknownFormat(t *testing.T) {
	handler, _ := newTestHandler(t)
	postEvaluate(t, handler, "INV-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/INV-1/export.doc", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestHandlerExportMissingInvoice(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/INV-404/export.csv", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}
