package interfaces

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	reconcile "reconcile-cloud/internal/reconcile/domain"
)

// BuildVerdictsPDF renders a minimal PDF report for an invoice's verdicts.
func BuildVerdictsPDF(invoiceID string, verdicts []reconcile.LineVerdict) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Invoice Reconciliation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Invoice: %s", invoiceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Lines: %d", len(verdicts)))
	pdf.Ln(5)
	if len(verdicts) > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Engine: %s / %s", verdicts[0].EngineVersion, verdicts[0].RulesetID))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", verdicts[0].CreatedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(25, 6, "Line", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "SKU", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Verdict", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Hypothesis", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Expected", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Residual", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Flags", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, verdict := range verdicts {
		pdf.CellFormat(25, 6, verdict.LineID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, verdict.SKUID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 6, string(verdict.Verdict), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(verdict.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, verdict.Hypothesis, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, formatMoney(verdict.ExpectedValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, formatMoney(verdict.Residual), "1", 0, "R", false, 0, "")
		pdf.CellFormat(60, 6, joinFlags(verdict.Flags), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildVerdictsXLSX renders a minimal XLSX report for an invoice's verdicts.
func BuildVerdictsXLSX(invoiceID string, verdicts []reconcile.LineVerdict) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	linesSheet := "lines"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(linesSheet)

	counts := make(map[reconcile.Verdict]int)
	for _, verdict := range verdicts {
		counts[verdict.Verdict]++
	}

	_ = f.SetCellValue(summarySheet, "A1", "Invoice Reconciliation Report")
	_ = f.SetCellValue(summarySheet, "A3", "Invoice")
	_ = f.SetCellValue(summarySheet, "B3", invoiceID)
	_ = f.SetCellValue(summarySheet, "A4", "Lines")
	_ = f.SetCellValue(summarySheet, "B4", len(verdicts))
	row := 6
	for _, verdict := range verdictOrder {
		if counts[verdict] == 0 {
			continue
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(verdict))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), counts[verdict])
		row++
	}

	headers := []string{"Line", "SKU", "Supplier", "Verdict", "Severity", "Hypothesis", "Implied", "Expected", "Residual", "Flags", "Fingerprint"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(linesSheet, cell, header)
	}
	for i, verdict := range verdicts {
		values := []any{
			verdict.LineID, verdict.SKUID, verdict.SupplierID,
			string(verdict.Verdict), string(verdict.Severity), verdict.Hypothesis,
			formatMoney(verdict.ImpliedValue), formatMoney(verdict.ExpectedValue), formatMoney(verdict.Residual),
			joinFlags(verdict.Flags), verdict.LineFingerprint,
		}
		for j, value := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(linesSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildVerdictsCSV renders a CSV export for an invoice's verdicts.
func BuildVerdictsCSV(invoiceID string, verdicts []reconcile.LineVerdict) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{
		"invoice_id", "line_id", "sku_id", "supplier_id",
		"verdict", "severity", "hypothesis",
		"implied_value", "expected_value", "residual",
		"flags", "ruleset_id", "engine_version", "line_fingerprint", "created_at",
	}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, verdict := range verdicts {
		record := []string{
			invoiceID, verdict.LineID, verdict.SKUID, verdict.SupplierID,
			string(verdict.Verdict), string(verdict.Severity), verdict.Hypothesis,
			formatMoney(verdict.ImpliedValue), formatMoney(verdict.ExpectedValue), formatMoney(verdict.Residual),
			joinFlags(verdict.Flags), verdict.RulesetID, verdict.EngineVersion, verdict.LineFingerprint,
			verdict.CreatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var verdictOrder = []reconcile.Verdict{
	reconcile.VerdictMathMismatch,
	reconcile.VerdictReferenceConflict,
	reconcile.VerdictUOMMismatch,
	reconcile.VerdictOffContract,
	reconcile.VerdictUnusualVsHistory,
	reconcile.VerdictOCRSuspected,
	reconcile.VerdictOKOnContract,
	reconcile.VerdictNeedsUserRule,
	reconcile.VerdictAnomalyUnmodelled,
}

func formatMoney(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func joinFlags(flags []reconcile.Flag) string {
	if len(flags) == 0 {
		return ""
	}
	values := make([]string, len(flags))
	for i, flag := range flags {
		values[i] = string(flag)
	}
	return strings.Join(values, ",")
}
