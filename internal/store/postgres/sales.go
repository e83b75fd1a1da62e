package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

const saleColumns = `id, created_at, total, payment_method, user_id, status, cancelled_at`

func scanSale(row rowScanner) (*domain.SaleRecord, error) {
	var (
		sale        domain.SaleRecord
		cancelledAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.CreatedAt, &sale.Total, &sale.PaymentMethod, &sale.UserID, &sale.Status, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CancelledAt = timePtr(cancelledAt)
	return &sale, nil
}

func (q queries) InsertSale(ctx context.Context, sale domain.SaleRecord) error {
	if sale.ID == "" || len(sale.Lines) == 0 || sale.UserID == "" {
		return store.ErrInvalidTransaction
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.CreatedAt.UTC(), sale.Total, sale.PaymentMethod, sale.UserID, string(sale.Status), nullTime(sale.CancelledAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}

	for i, line := range sale.Lines {
		if _, err := q.q.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, unit_id, product_id, quantity, unit_price, subtotal, origin)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, nullIfEmpty(line.UnitID), line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal, string(line.Origin)); err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return nil
}

func (q queries) LockLatestSale(ctx context.Context) (*domain.SaleRecord, error) {
	sale, err := scanSale(q.q.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`))
	if err != nil {
		return nil, err
	}
	if err := q.loadLines(ctx, []*domain.SaleRecord{sale}); err != nil {
		return nil, err
	}
	return sale, nil
}

func (q queries) SetSaleStatus(ctx context.Context, saleID string, status domain.SaleStatus, at time.Time) error {
	var cancelledAt *time.Time
	if status == domain.SaleStatusCancelled {
		cancelledAt = &at
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancelled_at = COALESCE($3, cancelled_at)
		WHERE id = $1
	`, saleID, string(status), nullTime(cancelledAt))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// loadLines fills Lines on every sale in one query.
func (q queries) loadLines(ctx context.Context, sales []*domain.SaleRecord) error {
	if len(sales) == 0 {
		return nil
	}
	byID := make(map[string]*domain.SaleRecord, len(sales))
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		byID[sale.ID] = sale
		ids = append(ids, sale.ID)
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT sale_id, unit_id, product_id, quantity, unit_price, subtotal, origin
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line   domain.SaleLineItem
			unitID sql.NullString
		)
		if err := rows.Scan(&line.SaleID, &unitID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal, &line.Origin); err != nil {
			return err
		}
		line.UnitID = unitID.String
		if sale, ok := byID[line.SaleID]; ok {
			sale.Lines = append(sale.Lines, line)
		}
	}
	return rows.Err()
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, saleID))
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, []*domain.SaleRecord{sale}); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	sales := make([]*domain.SaleRecord, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := s.loadLines(ctx, sales); err != nil {
		return nil, err
	}
	result := make([]domain.SaleRecord, 0, len(sales))
	for _, sale := range sales {
		result = append(result, *sale)
	}
	return result, nil
}
