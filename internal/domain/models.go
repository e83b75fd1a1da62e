package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UnitKind string

const (
	UnitKindDiscrete  UnitKind = "discrete"
	UnitKindDivisible UnitKind = "divisible"
)

func (k UnitKind) Valid() bool {
	return k == UnitKindDiscrete || k == UnitKindDivisible
}

type UnitStatus string

const (
	UnitStatusActive   UnitStatus = "active"
	UnitStatusInactive UnitStatus = "inactive"
)

func (s UnitStatus) Valid() bool {
	return s == UnitStatusActive || s == UnitStatusInactive
}

// SaleOrigin records how a cart line was selected. It decides which stock
// effects a confirmation applies and which a cancellation reverses.
type SaleOrigin string

const (
	OriginByBarcode     SaleOrigin = "by_barcode"
	OriginByID          SaleOrigin = "by_id"
	OriginBulk          SaleOrigin = "bulk"
	OriginBulkByBarcode SaleOrigin = "bulk_by_barcode"
)

func (o SaleOrigin) Valid() bool {
	switch o {
	case OriginByBarcode, OriginByID, OriginBulk, OriginBulkByBarcode:
		return true
	}
	return false
}

// TouchesUnit reports whether the origin references a single ledger row.
func (o SaleOrigin) TouchesUnit() bool {
	return o == OriginByBarcode || o == OriginBulkByBarcode
}

type SaleStatus string

const (
	SaleStatusActive    SaleStatus = "active"
	SaleStatusCancelled SaleStatus = "cancelled"
)

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	UnitKind          UnitKind        `json:"unit_kind"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	SalePrice         decimal.Decimal `json:"sale_price"`
	MarginRate        decimal.Decimal `json:"margin_rate"`
	RoundedPrice      decimal.Decimal `json:"rounded_price"`
	SupplierID        string          `json:"supplier_id,omitempty"`
	CategoryID        string          `json:"category_id,omitempty"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Product) IsDivisible() bool {
	return p.UnitKind == UnitKindDivisible
}

// ShelfPrice is the price captured by carts: the rounded price when set,
// the raw sale price otherwise.
func (p Product) ShelfPrice() decimal.Decimal {
	if p.RoundedPrice.IsPositive() {
		return p.RoundedPrice
	}
	return p.SalePrice
}

func (p Product) IsLowStock() bool {
	return p.Quantity.LessThanOrEqual(p.LowStockThreshold)
}

type ProductCreateRequest struct {
	Name              string          `json:"name"`
	UnitKind          UnitKind        `json:"unit_kind"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	MarginRate        decimal.Decimal `json:"margin_rate"`
	SupplierID        string          `json:"supplier_id,omitempty"`
	CategoryID        string          `json:"category_id,omitempty"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	InitialStock      decimal.Decimal `json:"initial_stock"`
	ExpiryDate        string          `json:"expiry_date,omitempty"`
}

type PricingUpdateRequest struct {
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	MarginRate *decimal.Decimal `json:"margin_rate,omitempty"`
}

type StockUnit struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Barcode    string     `json:"barcode"`
	Status     UnitStatus `json:"status"`
	IngressAt  time.Time  `json:"ingress_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

func (u StockUnit) IsActive() bool {
	return u.Status == UnitStatusActive
}

func (u StockUnit) ExpiredAsOf(asOf time.Time) bool {
	if u.ExpiryDate == nil {
		return false
	}
	return !DateUTC(*u.ExpiryDate).After(DateUTC(asOf))
}

type StockUnitCreateRequest struct {
	ProductID  string `json:"product_id"`
	Barcode    string `json:"barcode,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// UnitRef addresses a stock unit either by id or by barcode.
type UnitRef struct {
	ID      string `json:"id,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

type StockAdjustmentRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

type StockReceiptRequest struct {
	ProductID  string          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExpiryDate string          `json:"expiry_date,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

type StockReceipt struct {
	Product Product     `json:"product"`
	Units   []StockUnit `json:"units"`
}

type CartItem struct {
	ProductID string          `json:"product_id"`
	UnitID    string          `json:"unit_id,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Barcode   string          `json:"barcode,omitempty"`
	Origin    SaleOrigin      `json:"origin"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(i.Quantity).Round(2)
}

type CartView struct {
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type CartAddRequest struct {
	ProductID string          `json:"product_id,omitempty"`
	Barcode   string          `json:"barcode,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Grams     decimal.Decimal `json:"grams"`
}

type SaleRecord struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	UserID        string          `json:"user_id"`
	Status        SaleStatus      `json:"status"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	Lines         []SaleLineItem  `json:"lines"`
}

type SaleLineItem struct {
	SaleID    string          `json:"sale_id"`
	UnitID    string          `json:"unit_id,omitempty"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Origin    SaleOrigin      `json:"origin"`
}

type SaleConfirmRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type SaleReceipt struct {
	SaleID    string          `json:"sale_id"`
	Total     decimal.Decimal `json:"total"`
	Lines     []SaleLineItem  `json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
}

type CancelResult struct {
	SaleID        string         `json:"sale_id"`
	RestoredLines []SaleLineItem `json:"restored_lines"`
}

type PurgeExpiredRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

type PurgeInactiveRequest struct {
	ProductID string `json:"product_id,omitempty"`
}

type PurgeResult struct {
	Deleted int `json:"deleted"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// DateUTC truncates t to midnight UTC.
func DateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
