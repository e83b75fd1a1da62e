package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

// arrayConverter lets []string arguments through to the mock the way the
// pgx driver accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

var (
	productCols = []string{"id", "name", "unit_kind", "quantity", "unit_cost", "sale_price", "margin_rate", "rounded_price",
		"supplier_id", "category_id", "low_stock_threshold", "created_at", "updated_at"}
	unitCols = []string{"id", "product_id", "barcode", "status", "ingress_at", "updated_at", "expiry_date", "notes"}
	saleCols = []string{"id", "created_at", "total", "payment_method", "user_id", "status", "cancelled_at"}
)

func TestLockProductScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	stamp := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prd-beras").
		WillReturnRows(sqlmock.NewRows(productCols).AddRow(
			"prd-beras", "Beras Curah", "divisible", "12.750", "11000.00", "12100.00", "0.1000", "12100.00",
			nil, "cat-sembako", "5.000", stamp, stamp,
		))

	product, err := s.LockProduct(context.Background(), "prd-beras")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitKindDivisible, product.UnitKind)
	assert.True(t, product.Quantity.Equal(decimal.RequireFromString("12.75")))
	assert.True(t, product.RoundedPrice.Equal(decimal.NewFromInt(12100)))
	assert.Empty(t, product.SupplierID)
	assert.Equal(t, "cat-sembako", product.CategoryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM products WHERE id = \$1`).
		WithArgs("prd-missing").
		WillReturnRows(sqlmock.NewRows(productCols))

	_, err := s.GetProduct(context.Background(), "prd-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProductQuantity(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE products SET quantity = \$2, updated_at = \$3 WHERE id = \$1`).
		WithArgs("prd-1", "4.5", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products SET quantity`).
		WithArgs("prd-gone", "1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SetProductQuantity(context.Background(), "prd-1", decimal.RequireFromString("4.5"), at))
	assert.ErrorIs(t, s.SetProductQuantity(context.Background(), "prd-gone", decimal.NewFromInt(1), at), store.ErrNotFound)
	assert.ErrorIs(t, s.SetProductQuantity(context.Background(), "prd-1", decimal.NewFromInt(-1), at), store.ErrInvalidTransaction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStockUnitMapsConstraintErrors(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	unit := domain.StockUnit{
		ID:        "unit-1",
		ProductID: "prd-1",
		Barcode:   "8990000000001",
		Status:    domain.UnitStatusActive,
		IngressAt: now,
		UpdatedAt: now,
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate barcode", &pgconn.PgError{Code: "23505"}, store.ErrDuplicateBarcode},
		{"unknown product", &pgconn.PgError{Code: "23503"}, store.ErrNotFound},
		{"other", errors.New("connection reset"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(`INSERT INTO stock_units`).
				WithArgs("unit-1", "prd-1", "8990000000001", "active", now, now, nil, "").
				WillReturnError(tt.err)

			err := s.InsertStockUnit(context.Background(), unit)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			} else {
				assert.EqualError(t, err, "connection reset")
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestListStockUnitsNewestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	newer := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)
	expiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM stock_units WHERE product_id = \$1 AND \(\$2::text = '' OR status = \$2::text\) ORDER BY ingress_at DESC, seq DESC`).
		WithArgs("prd-1", "active").
		WillReturnRows(sqlmock.NewRows(unitCols).
			AddRow("unit-2", "prd-1", "8990000000002", "active", newer, newer, expiry, "").
			AddRow("unit-1", "prd-1", "8990000000001", "active", older, older, nil, "[2026-04-02T00:00:00Z] received"))

	units, err := s.ListStockUnits(context.Background(), "prd-1", domain.UnitStatusActive)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "unit-2", units[0].ID)
	require.NotNil(t, units[0].ExpiryDate)
	assert.True(t, units[0].ExpiryDate.Equal(expiry))
	assert.Nil(t, units[1].ExpiryDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStockUnits(t *testing.T) {
	s, mock := newMockStore(t)

	deleted, err := s.DeleteStockUnits(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	mock.ExpectExec(`DELETE FROM stock_units WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"unit-1", "unit-2"}).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err = s.DeleteStockUnits(context.Background(), []string{"unit-1", "unit-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET quantity`).
		WithArgs("prd-1", "3", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.SetProductQuantity(ctx, "prd-1", decimal.NewFromInt(3), at)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET quantity`).
		WithArgs("prd-1", "3", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	failure := errors.New("line rejected")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetProductQuantity(ctx, "prd-1", decimal.NewFromInt(3), at); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockLatestSaleLoadsLines(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM sales ORDER BY seq DESC LIMIT 1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(saleCols).
			AddRow("sale-1", created, "16250.00", "cash", "cashier", "active", nil))
	mock.ExpectQuery(`FROM sale_lines WHERE sale_id = ANY\(\$1\) ORDER BY sale_id, line_no`).
		WithArgs([]string{"sale-1"}).
		WillReturnRows(sqlmock.NewRows([]string{"sale_id", "unit_id", "product_id", "quantity", "unit_price", "subtotal", "origin"}).
			AddRow("sale-1", "unit-1", "prd-susu", "1.000", "15000.00", "15000.00", "by_barcode").
			AddRow("sale-1", nil, "prd-beras", "0.250", "5000.00", "1250.00", "bulk"))

	sale, err := s.LockLatestSale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusActive, sale.Status)
	assert.Nil(t, sale.CancelledAt)
	require.Len(t, sale.Lines, 2)
	assert.Equal(t, domain.OriginByBarcode, sale.Lines[0].Origin)
	assert.Equal(t, "unit-1", sale.Lines[0].UnitID)
	assert.Empty(t, sale.Lines[1].UnitID)
	assert.True(t, sale.Lines[1].Quantity.Equal(decimal.RequireFromString("0.25")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockLatestSaleWithoutSales(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM sales ORDER BY seq DESC LIMIT 1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(saleCols))

	_, err := s.LockLatestSale(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSaleStatusStampsCancellation(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE sales SET status = \$2, cancelled_at = COALESCE\(\$3, cancelled_at\) WHERE id = \$1`).
		WithArgs("sale-1", "cancelled", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetSaleStatus(context.Background(), "sale-1", domain.SaleStatusCancelled, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS products`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
