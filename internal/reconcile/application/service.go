package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"reconcile-cloud/internal/audit"
	"reconcile-cloud/internal/auth"
	"reconcile-cloud/internal/observability/metrics"
	reconcile "reconcile-cloud/internal/reconcile/domain"
)

// SignalSource supplies cross-line classifier signals for a line. The zero
// Signals value is a valid answer when no reference data exists.
type SignalSource interface {
	SignalsFor(ctx context.Context, line reconcile.RawLine, canonical reconcile.CanonicalQuantities) (reconcile.Signals, error)
}

// NoSignals never raises a signal.
type NoSignals struct{}

// SignalsFor returns empty signals.
func (NoSignals) SignalsFor(context.Context, reconcile.RawLine, reconcile.CanonicalQuantities) (reconcile.Signals, error) {
	return reconcile.Signals{}, nil
}

// EvaluateInvoiceRequest carries one invoice's extracted lines and totals.
// Totals are optional; invoice-level checks run only when present.
type EvaluateInvoiceRequest struct {
	InvoiceID    string
	SupplierID   string
	Date         time.Time
	Lines        []reconcile.RawLine
	Subtotal     *float64
	VATAmount    *float64
	VATRate      *float64
	InvoiceTotal *float64
}

// LineResult pairs a persisted verdict with its cross-invoice duplicates.
type LineResult struct {
	Verdict     reconcile.LineVerdict
	DuplicateOf []string
}

// InvoiceEvaluation is the outcome of evaluating one invoice.
type InvoiceEvaluation struct {
	InvoiceID    string
	RulesetID    string
	Results      []LineResult
	InvoiceFlags []reconcile.Flag
	SkippedLines []string
	EvaluatedAt  time.Time
}

// LineEvaluationService runs the reconciliation pipeline over invoice lines
// and persists the resulting verdicts.
type LineEvaluationService struct {
	normalizer    *reconcile.Normalizer
	solver        *reconcile.DiscountSolver
	checker       *reconcile.MathChecker
	classifier    reconcile.Classifier
	fingerprinter *reconcile.Fingerprinter
	signals       SignalSource
	repo          reconcile.VerdictRepository
	auditor       audit.Logger
	logger        *log.Logger
	rulesetID     string
}

// NewLineEvaluationService constructs the service from engine config.
func NewLineEvaluationService(
	cfg Config,
	repo reconcile.VerdictRepository,
	signals SignalSource,
	auditor audit.Logger,
	logger *log.Logger,
) (*LineEvaluationService, error) {
	if repo == nil {
		return nil, errors.New("line evaluation service: nil repository")
	}
	if signals == nil {
		signals = NoSignals{}
	}
	if logger == nil {
		logger = log.Default()
	}

	normalizer, err := reconcile.NewNormalizer(cfg.NormalizerConfig())
	if err != nil {
		return nil, err
	}
	solver, err := reconcile.NewDiscountSolver(cfg.SolverConfig())
	if err != nil {
		return nil, err
	}
	fingerprinter, err := reconcile.NewFingerprinter(reconcile.EngineVersion)
	if err != nil {
		return nil, err
	}

	return &LineEvaluationService{
		normalizer:    normalizer,
		solver:        solver,
		checker:       reconcile.NewMathChecker(cfg.MathCheckConfig()),
		classifier:    reconcile.NewClassifier(),
		fingerprinter: fingerprinter,
		signals:       signals,
		repo:          repo,
		auditor:       auditor,
		logger:        logger,
		rulesetID:     cfg.RulesetID,
	}, nil
}

// EvaluateInvoice evaluates all lines of an invoice, persists the verdicts
// and returns them in input order. Lines whose fingerprint cannot be
// computed are logged and skipped; they never reach the repository.
func (s *LineEvaluationService) EvaluateInvoice(ctx context.Context, req EvaluateInvoiceRequest) (*InvoiceEvaluation, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceEvaluate(result, time.Since(start))
	}()

	if req.InvoiceID == "" {
		result = metrics.ResultError
		return nil, errors.New("line evaluation service: invoice_id required")
	}
	if len(req.Lines) == 0 {
		result = metrics.ResultError
		return nil, errors.New("line evaluation service: no lines to evaluate")
	}

	invoiceFlags := s.invoiceFlags(req)
	now := time.Now().UTC()

	verdicts := make([]reconcile.LineVerdict, len(req.Lines))
	var wg sync.WaitGroup
	for i := range req.Lines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			line := s.fillLineDefaults(req, req.Lines[i])
			verdicts[i] = s.evaluateLine(ctx, line, invoiceFlags, now)
		}(i)
	}
	wg.Wait()

	eval := &InvoiceEvaluation{
		InvoiceID:    req.InvoiceID,
		RulesetID:    s.rulesetID,
		InvoiceFlags: invoiceFlags.Values(),
		EvaluatedAt:  now,
	}

	var persist []reconcile.LineVerdict
	for i, verdict := range verdicts {
		if verdict.LineFingerprint == "" {
			s.logger.Printf("line evaluation: fingerprint failed for invoice=%s line=%s, skipping", req.InvoiceID, req.Lines[i].LineID)
			metrics.IncFingerprintFailure()
			eval.SkippedLines = append(eval.SkippedLines, req.Lines[i].LineID)
			continue
		}
		duplicates, err := s.findDuplicates(ctx, verdict)
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}
		persist = append(persist, verdict)
		eval.Results = append(eval.Results, LineResult{Verdict: verdict, DuplicateOf: duplicates})
		metrics.IncLineVerdict(string(verdict.Verdict))
		for _, flag := range verdict.Flags {
			metrics.IncLineFlag(string(flag))
		}
		if verdict.Hypothesis != "" {
			metrics.IncDiscountHypothesis(verdict.Hypothesis)
		}
	}

	if len(persist) > 0 {
		if err := s.repo.SaveAll(ctx, persist); err != nil {
			result = metrics.ResultError
			return nil, err
		}
	}

	s.audit(ctx, req, eval)
	return eval, nil
}

// GetLine returns the latest verdict for a line, or nil.
func (s *LineEvaluationService) GetLine(ctx context.Context, invoiceID, lineID string) (*reconcile.LineVerdict, error) {
	if invoiceID == "" || lineID == "" {
		return nil, errors.New("line evaluation service: invoice_id and line_id required")
	}
	return s.repo.FindByLine(ctx, invoiceID, lineID)
}

// ListVerdicts returns all verdicts stored for an invoice.
func (s *LineEvaluationService) ListVerdicts(ctx context.Context, invoiceID string) ([]reconcile.LineVerdict, error) {
	if invoiceID == "" {
		return nil, errors.New("line evaluation service: invoice_id required")
	}
	return s.repo.ListByInvoice(ctx, invoiceID)
}

// FindByFingerprint returns all verdicts sharing a fingerprint.
func (s *LineEvaluationService) FindByFingerprint(ctx context.Context, fingerprint string) ([]reconcile.LineVerdict, error) {
	if fingerprint == "" {
		return nil, reconcile.ErrEmptyFingerprint
	}
	return s.repo.FindByFingerprint(ctx, fingerprint)
}

func (s *LineEvaluationService) invoiceFlags(req EvaluateInvoiceRequest) reconcile.FlagSet {
	if req.Subtotal == nil || req.VATAmount == nil || req.InvoiceTotal == nil {
		return reconcile.NewFlagSet()
	}
	return s.checker.CheckInvoiceTotals(*req.Subtotal, *req.VATAmount, req.VATRate, *req.InvoiceTotal)
}

func (s *LineEvaluationService) fillLineDefaults(req EvaluateInvoiceRequest, line reconcile.RawLine) reconcile.RawLine {
	if line.InvoiceID == "" {
		line.InvoiceID = req.InvoiceID
	}
	if line.SupplierID == "" {
		line.SupplierID = req.SupplierID
	}
	if line.Date.IsZero() {
		line.Date = req.Date
	}
	if line.RulesetID == "" {
		line.RulesetID = s.rulesetID
	}
	return line
}

func (s *LineEvaluationService) evaluateLine(ctx context.Context, line reconcile.RawLine, invoiceFlags reconcile.FlagSet, now time.Time) reconcile.LineVerdict {
	canonical := s.normalizer.Canonicalize(line.Quantity, line.Description)

	flags := s.checker.ValidateLine(line, canonical)
	for _, flag := range canonical.Flags.Values() {
		flags.Add(flag)
	}
	for _, flag := range invoiceFlags.Values() {
		flags.Add(flag)
	}

	discount := s.solver.Solve(line.Quantity, line.UnitPrice, line.LineTotal, canonical)

	signals, err := s.signals.SignalsFor(ctx, line, canonical)
	if err != nil {
		// Reference data failures degrade to no signals rather than
		// blocking the line.
		s.logger.Printf("line evaluation: signal source failed for invoice=%s line=%s: %v", line.InvoiceID, line.LineID, err)
		signals = reconcile.Signals{}
	}

	verdict := s.classifier.Assign(flags, signals, discount)

	uomKey := canonical.UOMKey
	if uomKey == "" {
		uomKey = line.UOMKey
	}
	nettPrice := 0.0
	if line.Quantity > 0 {
		nettPrice = line.LineTotal / line.Quantity
	}
	fingerprint := s.fingerprinter.Compute(reconcile.FingerprintInput{
		SKUID:        line.SKUID,
		QuantityEach: canonical.QuantityEach,
		UOMKey:       uomKey,
		UnitPriceRaw: line.UnitPrice,
		NettPrice:    nettPrice,
		NettValue:    line.LineTotal,
		Date:         line.Date,
		SupplierID:   line.SupplierID,
		RulesetID:    line.RulesetID,
	})

	record := reconcile.LineVerdict{
		InvoiceID:       line.InvoiceID,
		LineID:          line.LineID,
		SKUID:           line.SKUID,
		SupplierID:      line.SupplierID,
		Verdict:         verdict,
		Severity:        verdict.SeverityOf(),
		Flags:           flags.Values(),
		RulesetID:       line.RulesetID,
		EngineVersion:   s.fingerprinter.EngineVersion(),
		LineFingerprint: fingerprint,
		CreatedAt:       now,
	}
	expected := line.Quantity * line.UnitPrice
	record.ExpectedValue = &expected
	if discount != nil {
		record.Hypothesis = string(discount.Kind)
		value := discount.Value
		record.ImpliedValue = &value
		residual := float64(discount.ResidualPennies) / 100
		record.Residual = &residual
	}
	return record
}

func (s *LineEvaluationService) findDuplicates(ctx context.Context, verdict reconcile.LineVerdict) ([]string, error) {
	existing, err := s.repo.FindByFingerprint(ctx, verdict.LineFingerprint)
	if err != nil {
		return nil, err
	}
	var duplicates []string
	for _, match := range existing {
		if match.InvoiceID == verdict.InvoiceID && match.LineID == verdict.LineID {
			continue
		}
		duplicates = append(duplicates, match.InvoiceID+"/"+match.LineID)
	}
	if len(duplicates) > 0 {
		metrics.IncDuplicateLine()
	}
	return duplicates, nil
}

func (s *LineEvaluationService) audit(ctx context.Context, req EvaluateInvoiceRequest, eval *InvoiceEvaluation) {
	if s.auditor == nil {
		return
	}
	counts := make(map[string]int)
	for _, result := range eval.Results {
		counts[string(result.Verdict.Verdict)]++
	}
	payload, err := json.Marshal(struct {
		InvoiceID string         `json:"invoice_id"`
		Lines     int            `json:"lines"`
		Skipped   int            `json:"skipped"`
		Verdicts  map[string]int `json:"verdicts"`
	}{
		InvoiceID: req.InvoiceID,
		Lines:     len(req.Lines),
		Skipped:   len(eval.SkippedLines),
		Verdicts:  counts,
	})
	if err != nil {
		s.logger.Printf("line evaluation: audit payload failed: %v", err)
		return
	}
	entry := audit.Entry{
		ID:            audit.NewID(),
		TenantID:      auth.TenantIDFromContext(ctx),
		Actor:         auth.SubjectFromContext(ctx),
		Role:          string(auth.RoleFromContext(ctx)),
		VenueID:       auth.VenueIDFromContext(ctx),
		Action:        "invoice.evaluate",
		ResourceType:  "invoice",
		ResourceID:    req.InvoiceID,
		Metadata:      payload,
		PayloadDigest: audit.DigestJSON(payload),
		CreatedAt:     eval.EvaluatedAt,
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Printf("line evaluation: audit write failed: %v", err)
	}
}
