package memory

import (
	"context"
	"sync"

	reconcile "reconcile-cloud/internal/reconcile/domain"
)

// VerdictRepository is an in-memory verdict store for tests and local runs.
type VerdictRepository struct {
	mu      sync.RWMutex
	records []reconcile.LineVerdict
}

// NewVerdictRepository constructs an empty repository.
func NewVerdictRepository() *VerdictRepository {
	return &VerdictRepository{}
}

// SaveAll appends verdicts. Fingerprints must be non-empty.
func (r *VerdictRepository) SaveAll(_ context.Context, verdicts []reconcile.LineVerdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, verdict := range verdicts {
		if verdict.LineFingerprint == "" {
			return reconcile.ErrEmptyFingerprint
		}
	}
	r.records = append(r.records, verdicts...)
	return nil
}

// FindByLine returns the latest verdict for a line, or nil.
func (r *VerdictRepository) FindByLine(_ context.Context, invoiceID, lineID string) (*reconcile.LineVerdict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].InvoiceID == invoiceID && r.records[i].LineID == lineID {
			verdict := r.records[i]
			return &verdict, nil
		}
	}
	return nil, nil
}

// FindByFingerprint returns all verdicts sharing a fingerprint.
func (r *VerdictRepository) FindByFingerprint(_ context.Context, fingerprint string) ([]reconcile.LineVerdict, error) {
	if fingerprint == "" {
		return nil, reconcile.ErrEmptyFingerprint
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []reconcile.LineVerdict
	for _, verdict := range r.records {
		if verdict.LineFingerprint == fingerprint {
			result = append(result, verdict)
		}
	}
	return result, nil
}

// ListByInvoice returns all verdicts stored for an invoice.
func (r *VerdictRepository) ListByInvoice(_ context.Context, invoiceID string) ([]reconcile.LineVerdict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []reconcile.LineVerdict
	for _, verdict := range r.records {
		if verdict.InvoiceID == invoiceID {
			result = append(result, verdict)
		}
	}
	return result, nil
}

// Len reports the number of stored records.
func (r *VerdictRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
