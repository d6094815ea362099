package reconcile

import "context"

// VerdictRepository persists immutable line verdicts. Records are only ever
// inserted; a re-evaluation produces a new record under the same
// (invoice_id, line_id) key with a newer created_at.
type VerdictRepository interface {
	SaveAll(ctx context.Context, verdicts []LineVerdict) error
	FindByLine(ctx context.Context, invoiceID, lineID string) (*LineVerdict, error)
	FindByFingerprint(ctx context.Context, fingerprint string) ([]LineVerdict, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]LineVerdict, error)
}
