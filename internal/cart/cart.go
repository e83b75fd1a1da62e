// Package cart stages sale lines for one checkout session.
//
// A Cart resolves what was scanned or typed into a priced line but never
// touches persisted stock; stock only moves when a sale is confirmed.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"kasirstok/backend/internal/domain"
)

var (
	ErrOutOfStock       = errors.New("out of stock")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrWeightRequired   = errors.New("product is sold by weight")
	ErrNotWeighable     = errors.New("product is not sold by weight")
	ErrAlreadyInCart    = errors.New("unit already in cart")
	ErrIndexOutOfRange  = errors.New("cart index out of range")
	ErrInvalidSelection = errors.New("select either a product id or a barcode")
)

var gramsPerKilogram = decimal.NewFromInt(1000)

// Catalog is the read side the cart resolves selections against.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetStockUnitByBarcode(ctx context.Context, code string) (*domain.StockUnit, error)
}

// Selector names what the cashier picked: a product id or a scanned
// barcode, optionally weighed on the scale.
type Selector struct {
	ProductID string
	Barcode   string
	weighed   bool
}

func ByProductID(productID string) Selector {
	return Selector{ProductID: strings.TrimSpace(productID)}
}

func ByBarcode(code string) Selector {
	return Selector{Barcode: strings.ToUpper(strings.TrimSpace(code))}
}

// Weighed marks the selection as weighed; the quantity passed to Add is then
// read as grams.
func (s Selector) Weighed() Selector {
	s.weighed = true
	return s
}

func (s Selector) IsWeighed() bool {
	return s.weighed
}

type Cart struct {
	mu      sync.Mutex
	catalog Catalog
	items   []domain.CartItem
}

func New(catalog Catalog) *Cart {
	return &Cart{catalog: catalog, items: make([]domain.CartItem, 0, 8)}
}

// Add resolves sel, checks it against current stock and what is already
// staged, and appends the priced line. qty is a unit count, or grams for a
// weighed selection.
func (c *Cart) Add(ctx context.Context, sel Selector, qty decimal.Decimal) (domain.CartItem, error) {
	if (sel.ProductID == "") == (sel.Barcode == "") {
		return domain.CartItem{}, ErrInvalidSelection
	}
	if !qty.IsPositive() {
		return domain.CartItem{}, ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		product *domain.Product
		unit    *domain.StockUnit
		err     error
	)
	if sel.Barcode != "" {
		unit, err = c.catalog.GetStockUnitByBarcode(ctx, sel.Barcode)
		if err != nil {
			return domain.CartItem{}, fmt.Errorf("barcode %s: %w", sel.Barcode, err)
		}
		if !unit.IsActive() {
			return domain.CartItem{}, fmt.Errorf("barcode %s: %w", sel.Barcode, ErrOutOfStock)
		}
		product, err = c.catalog.GetProduct(ctx, unit.ProductID)
	} else {
		product, err = c.catalog.GetProduct(ctx, sel.ProductID)
	}
	if err != nil {
		return domain.CartItem{}, err
	}

	item := domain.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.ShelfPrice(),
	}

	switch {
	case sel.weighed && !product.IsDivisible():
		return domain.CartItem{}, ErrNotWeighable
	case !sel.weighed && product.IsDivisible():
		return domain.CartItem{}, ErrWeightRequired
	case sel.weighed:
		item.Quantity = qty.Div(gramsPerKilogram)
		item.Origin = domain.OriginBulk
	case unit != nil:
		if !qty.Equal(decimal.NewFromInt(1)) {
			return domain.CartItem{}, ErrInvalidQuantity
		}
		item.Quantity = qty
		item.Origin = domain.OriginByBarcode
	default:
		if !qty.IsInteger() {
			return domain.CartItem{}, ErrInvalidQuantity
		}
		item.Quantity = qty
		item.Origin = domain.OriginByID
	}

	if unit != nil {
		if c.holdsUnit(unit.ID) {
			return domain.CartItem{}, ErrAlreadyInCart
		}
		item.UnitID = unit.ID
		item.Barcode = unit.Barcode
		if sel.weighed {
			item.Origin = domain.OriginBulkByBarcode
		}
	}

	staged := c.stagedQuantity(product.ID).Add(item.Quantity)
	if staged.GreaterThan(product.Quantity) {
		return domain.CartItem{}, fmt.Errorf("%s: %w", product.Name, ErrOutOfStock)
	}

	c.items = append(c.items, item)
	return item, nil
}

func (c *Cart) holdsUnit(unitID string) bool {
	for _, existing := range c.items {
		if existing.UnitID == unitID {
			return true
		}
	}
	return false
}

func (c *Cart) stagedQuantity(productID string) decimal.Decimal {
	total := decimal.Zero
	for _, existing := range c.items {
		if existing.ProductID == productID {
			total = total.Add(existing.Quantity)
		}
	}
	return total
}

func (c *Cart) Remove(index int) (domain.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.items) {
		return domain.CartItem{}, ErrIndexOutOfRange
	}
	removed := c.items[index]
	c.items = append(c.items[:index], c.items[index+1:]...)
	return removed, nil
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = c.items[:0]
}

func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return totalOf(c.items)
}

// Items returns a copy of the staged lines.
func (c *Cart) Items() []domain.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CartItem(nil), c.items...)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cart) View() domain.CartView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CartView{
		Items: append([]domain.CartItem{}, c.items...),
		Total: totalOf(c.items),
	}
}

// Restore replaces the staged lines with a previously saved snapshot.
func (c *Cart) Restore(items []domain.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items[:0], items...)
}

func totalOf(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
