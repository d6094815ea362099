package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	reconcile "reconcile-cloud/internal/reconcile/domain"
)

// VerdictRepository is a Postgres repository for line verdicts. Records are
// insert-only; re-evaluations append under the same (invoice_id, line_id).
type VerdictRepository struct {
	db *sql.DB
}

// NewVerdictRepository constructs a repository.
func NewVerdictRepository(db *sql.DB) *VerdictRepository {
	return &VerdictRepository{db: db}
}

// SaveAll inserts a batch of verdicts in one transaction.
func (r *VerdictRepository) SaveAll(ctx context.Context, verdicts []reconcile.LineVerdict) error {
	if r == nil || r.db == nil {
		return errors.New("verdict repo: nil db")
	}
	if len(verdicts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, verdict := range verdicts {
		if verdict.LineFingerprint == "" {
			_ = tx.Rollback()
			return reconcile.ErrEmptyFingerprint
		}
		flags, err := json.Marshal(verdict.Flags)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		createdAt := verdict.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO line_verdicts (
	invoice_id, line_id, sku_id, supplier_id, verdict, severity, flags,
	hypothesis, implied_value, expected_value, residual,
	ruleset_id, engine_version, line_fingerprint, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`,
			verdict.InvoiceID, verdict.LineID, verdict.SKUID, verdict.SupplierID,
			string(verdict.Verdict), string(verdict.Severity), flags,
			nullString(verdict.Hypothesis), nullFloat(verdict.ImpliedValue),
			nullFloat(verdict.ExpectedValue), nullFloat(verdict.Residual),
			verdict.RulesetID, verdict.EngineVersion, verdict.LineFingerprint, createdAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FindByLine returns the latest verdict for a line, or nil.
func (r *VerdictRepository) FindByLine(ctx context.Context, invoiceID, lineID string) (*reconcile.LineVerdict, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("verdict repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT invoice_id, line_id, sku_id, supplier_id, verdict, severity, flags,
	hypothesis, implied_value, expected_value, residual,
	ruleset_id, engine_version, line_fingerprint, created_at
FROM line_verdicts
WHERE invoice_id = $1 AND line_id = $2
ORDER BY created_at DESC
LIMIT 1`, invoiceID, lineID)
	verdict, err := scanVerdict(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return verdict, nil
}

// FindByFingerprint returns all verdicts sharing a fingerprint.
func (r *VerdictRepository) FindByFingerprint(ctx context.Context, fingerprint string) ([]reconcile.LineVerdict, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("verdict repo: nil db")
	}
	if fingerprint == "" {
		return nil, reconcile.ErrEmptyFingerprint
	}
	return r.query(ctx, `
SELECT invoice_id, line_id, sku_id, supplier_id, verdict, severity, flags,
	hypothesis, implied_value, expected_value, residual,
	ruleset_id, engine_version, line_fingerprint, created_at
FROM line_verdicts
WHERE line_fingerprint = $1
ORDER BY created_at ASC`, fingerprint)
}

// ListByInvoice returns all verdicts stored for an invoice.
func (r *VerdictRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]reconcile.LineVerdict, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("verdict repo: nil db")
	}
	return r.query(ctx, `
SELECT invoice_id, line_id, sku_id, supplier_id, verdict, severity, flags,
	hypothesis, implied_value, expected_value, residual,
	ruleset_id, engine_version, line_fingerprint, created_at
FROM line_verdicts
WHERE invoice_id = $1
ORDER BY line_id ASC, created_at ASC`, invoiceID)
}

func (r *VerdictRepository) query(ctx context.Context, stmt string, args ...any) ([]reconcile.LineVerdict, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reconcile.LineVerdict
	for rows.Next() {
		verdict, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		if verdict != nil {
			result = append(result, *verdict)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerdict(row rowScanner) (*reconcile.LineVerdict, error) {
	var verdict reconcile.LineVerdict
	var verdictStr, severityStr string
	var flags []byte
	var hypothesis sql.NullString
	var implied, expected, residual sql.NullFloat64
	err := row.Scan(
		&verdict.InvoiceID,
		&verdict.LineID,
		&verdict.SKUID,
		&verdict.SupplierID,
		&verdictStr,
		&severityStr,
		&flags,
		&hypothesis,
		&implied,
		&expected,
		&residual,
		&verdict.RulesetID,
		&verdict.EngineVersion,
		&verdict.LineFingerprint,
		&verdict.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	verdict.Verdict = reconcile.Verdict(verdictStr)
	verdict.Severity = reconcile.Severity(severityStr)
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &verdict.Flags); err != nil {
			return nil, err
		}
	}
	if hypothesis.Valid {
		verdict.Hypothesis = hypothesis.String
	}
	if implied.Valid {
		v := implied.Float64
		verdict.ImpliedValue = &v
	}
	if expected.Valid {
		v := expected.Float64
		verdict.ExpectedValue = &v
	}
	if residual.Valid {
		v := residual.Float64
		verdict.Residual = &v
	}
	verdict.CreatedAt = verdict.CreatedAt.UTC()
	return &verdict, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
