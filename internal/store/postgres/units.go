package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

const unitColumns = `id, product_id, barcode, status, ingress_at, updated_at, expiry_date, notes`

func scanUnit(row rowScanner) (*domain.StockUnit, error) {
	var (
		u      domain.StockUnit
		expiry sql.NullTime
	)
	err := row.Scan(&u.ID, &u.ProductID, &u.Barcode, &u.Status, &u.IngressAt, &u.UpdatedAt, &expiry, &u.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	u.IngressAt = u.IngressAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.ExpiryDate = datePtr(expiry)
	return &u, nil
}

func collectUnits(rows *sql.Rows) ([]domain.StockUnit, error) {
	defer rows.Close()

	units := make([]domain.StockUnit, 0, 16)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (q queries) BarcodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stock_units WHERE barcode = $1)`, code).Scan(&exists)
	return exists, err
}

func (q queries) InsertStockUnit(ctx context.Context, unit domain.StockUnit) error {
	if unit.ID == "" || unit.ProductID == "" || unit.Barcode == "" || !unit.Status.Valid() {
		return store.ErrInvalidTransaction
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO stock_units (`+unitColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, unit.ID, unit.ProductID, unit.Barcode, string(unit.Status), unit.IngressAt.UTC(), unit.UpdatedAt.UTC(),
		nullDate(unit.ExpiryDate), unit.Notes)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return store.ErrDuplicateBarcode
	case isForeignKeyViolation(err):
		return store.ErrNotFound
	default:
		return err
	}
}

func (q queries) GetStockUnit(ctx context.Context, unitID string) (*domain.StockUnit, error) {
	return scanUnit(q.q.QueryRowContext(ctx, `
		SELECT `+unitColumns+`
		FROM stock_units
		WHERE id = $1
	`, unitID))
}

func (q queries) GetStockUnitByBarcode(ctx context.Context, code string) (*domain.StockUnit, error) {
	return scanUnit(q.q.QueryRowContext(ctx, `
		SELECT `+unitColumns+`
		FROM stock_units
		WHERE barcode = $1
	`, code))
}

func (q queries) UpdateStockUnit(ctx context.Context, unit domain.StockUnit) error {
	if !unit.Status.Valid() {
		return store.ErrInvalidTransaction
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE stock_units
		SET status = $2, updated_at = $3, expiry_date = $4, notes = $5
		WHERE id = $1
	`, unit.ID, string(unit.Status), unit.UpdatedAt.UTC(), nullDate(unit.ExpiryDate), unit.Notes)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (q queries) ListStockUnits(ctx context.Context, productID string, status domain.UnitStatus) ([]domain.StockUnit, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM stock_units
		WHERE product_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY ingress_at DESC, seq DESC
	`, productID, string(status))
	if err != nil {
		return nil, err
	}
	return collectUnits(rows)
}

func (q queries) DeleteInactiveStockUnits(ctx context.Context, productID string) (int, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM stock_units
		WHERE status = 'inactive' AND ($1::text = '' OR product_id = $1::text)
	`, productID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (q queries) ListExpiredStockUnits(ctx context.Context, asOf time.Time) ([]domain.StockUnit, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM stock_units
		WHERE expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY product_id, seq
		FOR UPDATE
	`, nowDateUTC(asOf))
	if err != nil {
		return nil, err
	}
	return collectUnits(rows)
}

func (q queries) DeleteStockUnits(ctx context.Context, unitIDs []string) (int, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM stock_units WHERE id = ANY($1)`, unitIDs)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}
