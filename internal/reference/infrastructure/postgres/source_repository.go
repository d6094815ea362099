package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	reference "reconcile-cloud/internal/reference/domain"
)

// SourceRepository persists and loads price references.
type SourceRepository struct {
	db *sql.DB
}

// NewSourceRepository constructs a repository.
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// ListSources returns references captured on or before the reference date.
func (r *SourceRepository) ListSources(ctx context.Context, skuID, supplierID string, at time.Time) ([]reference.PriceSource, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("source repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT class, value, uom_key, captured_at, source_hash
FROM price_sources
WHERE sku_id = $1 AND supplier_id = $2 AND captured_at <= $3
ORDER BY captured_at DESC`, skuID, supplierID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reference.PriceSource
	for rows.Next() {
		var src reference.PriceSource
		var class string
		if err := rows.Scan(&class, &src.Value, &src.UOMKey, &src.CapturedAt, &src.SourceHash); err != nil {
			return nil, err
		}
		src.Class = reference.SourceClass(class)
		src.CapturedAt = src.CapturedAt.UTC()
		result = append(result, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AddSource records a new price reference.
func (r *SourceRepository) AddSource(ctx context.Context, skuID, supplierID string, src reference.PriceSource) error {
	if r == nil || r.db == nil {
		return errors.New("source repo: nil db")
	}
	if skuID == "" || supplierID == "" {
		return errors.New("source repo: sku_id and supplier_id required")
	}
	capturedAt := src.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO price_sources (sku_id, supplier_id, class, value, uom_key, captured_at, source_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		skuID, supplierID, string(src.Class), src.Value, src.UOMKey, capturedAt, src.SourceHash)
	return err
}

// SaveSnapshot stores the weighted sources consulted for a line. Only
// sources that carried weight are kept.
func (r *SourceRepository) SaveSnapshot(ctx context.Context, invoiceID, lineID string, sources []reference.WeightedSource) error {
	if r == nil || r.db == nil {
		return errors.New("source repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if src.Weight <= 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO price_sources_snapshot (id, invoice_id, line_id, source, value, uom_key, captured_at, source_hash, weight)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value, weight = EXCLUDED.weight`,
			snapshotID(invoiceID, lineID, string(src.Class)),
			invoiceID, lineID, string(src.Class), src.Value, src.UOMKey,
			src.CapturedAt, src.SourceHash, src.Weight)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func snapshotID(invoiceID, lineID, source string) string {
	sum := sha256.Sum256([]byte(invoiceID + "_" + lineID + "_" + source))
	return hex.EncodeToString(sum[:])
}
