package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

const productColumns = `id, name, unit_kind, quantity, unit_cost, sale_price, margin_rate, rounded_price,
	supplier_id, category_id, low_stock_threshold, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p        domain.Product
		supplier sql.NullString
		category sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.UnitKind, &p.Quantity, &p.UnitCost, &p.SalePrice, &p.MarginRate, &p.RoundedPrice,
		&supplier, &category, &p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.SupplierID = supplier.String
	p.CategoryID = category.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (q queries) InsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" || !product.UnitKind.Valid() || product.Quantity.IsNegative() {
		return store.ErrInvalidTransaction
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, product.ID, product.Name, string(product.UnitKind), product.Quantity, product.UnitCost, product.SalePrice,
		product.MarginRate, product.RoundedPrice, nullIfEmpty(product.SupplierID), nullIfEmpty(product.CategoryID),
		product.LowStockThreshold, product.CreatedAt.UTC(), product.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (q queries) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return scanProduct(q.q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, productID))
}

func (q queries) LockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return scanProduct(q.q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID))
}

func (q queries) SetProductQuantity(ctx context.Context, productID string, qty decimal.Decimal, at time.Time) error {
	if qty.IsNegative() {
		return store.ErrInvalidTransaction
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE products
		SET quantity = $2, updated_at = $3
		WHERE id = $1
	`, productID, qty, at.UTC())
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (q queries) UpdateProductPricing(ctx context.Context, product domain.Product) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE products
		SET unit_cost = $2, margin_rate = $3, sale_price = $4, rounded_price = $5, updated_at = $6
		WHERE id = $1
	`, product.ID, product.UnitCost, product.MarginRate, product.SalePrice, product.RoundedPrice, product.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}
