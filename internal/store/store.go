package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirstok/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicateBarcode   = errors.New("barcode already registered")
	ErrLedgerDiscrepancy  = errors.New("stock ledger out of sync with aggregate quantity")
)

// Tx is the set of operations available inside a unit of work. Every
// method is also available on Repository for single-statement use.
type Tx interface {
	InsertProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	// LockProduct returns the product and holds its row until the unit of work ends.
	LockProduct(ctx context.Context, productID string) (*domain.Product, error)
	SetProductQuantity(ctx context.Context, productID string, qty decimal.Decimal, at time.Time) error
	UpdateProductPricing(ctx context.Context, product domain.Product) error

	BarcodeExists(ctx context.Context, code string) (bool, error)
	InsertStockUnit(ctx context.Context, unit domain.StockUnit) error
	GetStockUnit(ctx context.Context, unitID string) (*domain.StockUnit, error)
	GetStockUnitByBarcode(ctx context.Context, code string) (*domain.StockUnit, error)
	UpdateStockUnit(ctx context.Context, unit domain.StockUnit) error
	// ListStockUnits returns units newest ingress first. An empty status lists all.
	ListStockUnits(ctx context.Context, productID string, status domain.UnitStatus) ([]domain.StockUnit, error)
	// DeleteInactiveStockUnits removes inactive rows. An empty productID covers every product.
	DeleteInactiveStockUnits(ctx context.Context, productID string) (int, error)
	ListExpiredStockUnits(ctx context.Context, asOf time.Time) ([]domain.StockUnit, error)
	DeleteStockUnits(ctx context.Context, unitIDs []string) (int, error)

	InsertSale(ctx context.Context, sale domain.SaleRecord) error
	LockLatestSale(ctx context.Context) (*domain.SaleRecord, error)
	SetSaleStatus(ctx context.Context, saleID string, status domain.SaleStatus, at time.Time) error
}

type Repository interface {
	Tx

	// WithTx runs fn in one unit of work: committed when fn returns nil,
	// rolled back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetSale(ctx context.Context, saleID string) (*domain.SaleRecord, error)
	ListSales(ctx context.Context, limit int) ([]domain.SaleRecord, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
