package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

var _ store.Tx = (*state)(nil)

func (st *state) clone() *state {
	out := &state{
		products:        make(map[string]domain.Product, len(st.products)),
		units:           make(map[string]unitRow, len(st.units)),
		unitIDByBarcode: make(map[string]string, len(st.unitIDByBarcode)),
		sales:           make([]domain.SaleRecord, len(st.sales), len(st.sales)+8),
		users:           st.users,
		seq:             st.seq,
	}
	for id, p := range st.products {
		out.products[id] = p
	}
	for id, row := range st.units {
		out.units[id] = unitRow{unit: cloneUnit(row.unit), seq: row.seq}
	}
	for code, id := range st.unitIDByBarcode {
		out.unitIDByBarcode[code] = id
	}
	copy(out.sales, st.sales)
	return out
}

func (st *state) putUnit(unit domain.StockUnit) {
	st.units[unit.ID] = unitRow{unit: unit, seq: st.seq}
	st.unitIDByBarcode[unit.Barcode] = unit.ID
}

func (st *state) InsertProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" || !product.UnitKind.Valid() {
		return store.ErrInvalidTransaction
	}
	if _, exists := st.products[product.ID]; exists {
		return store.ErrInvalidTransaction
	}
	st.products[product.ID] = product
	return nil
}

func (st *state) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	product, ok := st.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (st *state) LockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return st.GetProduct(ctx, productID)
}

func (st *state) SetProductQuantity(_ context.Context, productID string, qty decimal.Decimal, at time.Time) error {
	product, ok := st.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if qty.IsNegative() {
		return store.ErrInsufficientStock
	}
	product.Quantity = qty
	product.UpdatedAt = at.UTC()
	st.products[productID] = product
	return nil
}

func (st *state) UpdateProductPricing(_ context.Context, product domain.Product) error {
	existing, ok := st.products[product.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.UnitCost = product.UnitCost
	existing.MarginRate = product.MarginRate
	existing.SalePrice = product.SalePrice
	existing.RoundedPrice = product.RoundedPrice
	existing.UpdatedAt = product.UpdatedAt.UTC()
	st.products[product.ID] = existing
	return nil
}

func (st *state) BarcodeExists(_ context.Context, code string) (bool, error) {
	_, exists := st.unitIDByBarcode[code]
	return exists, nil
}

func (st *state) InsertStockUnit(_ context.Context, unit domain.StockUnit) error {
	if unit.ID == "" || unit.Barcode == "" || !unit.Status.Valid() {
		return store.ErrInvalidTransaction
	}
	if _, ok := st.products[unit.ProductID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := st.unitIDByBarcode[unit.Barcode]; exists {
		return store.ErrDuplicateBarcode
	}
	if _, exists := st.units[unit.ID]; exists {
		return store.ErrInvalidTransaction
	}
	st.seq++
	st.putUnit(cloneUnit(unit))
	return nil
}

func (st *state) GetStockUnit(_ context.Context, unitID string) (*domain.StockUnit, error) {
	row, ok := st.units[unitID]
	if !ok {
		return nil, store.ErrNotFound
	}
	unit := cloneUnit(row.unit)
	return &unit, nil
}

func (st *state) GetStockUnitByBarcode(ctx context.Context, code string) (*domain.StockUnit, error) {
	id, ok := st.unitIDByBarcode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.GetStockUnit(ctx, id)
}

func (st *state) UpdateStockUnit(_ context.Context, unit domain.StockUnit) error {
	row, ok := st.units[unit.ID]
	if !ok {
		return store.ErrNotFound
	}
	if !unit.Status.Valid() {
		return store.ErrInvalidTransaction
	}
	row.unit.Status = unit.Status
	row.unit.Notes = unit.Notes
	row.unit.UpdatedAt = unit.UpdatedAt.UTC()
	st.units[unit.ID] = row
	return nil
}

func (st *state) ListStockUnits(_ context.Context, productID string, status domain.UnitStatus) ([]domain.StockUnit, error) {
	rows := make([]unitRow, 0, 16)
	for _, row := range st.units {
		if row.unit.ProductID != productID {
			continue
		}
		if status != "" && row.unit.Status != status {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, newestFirst)
	return unitsOf(rows), nil
}

func (st *state) DeleteInactiveStockUnits(_ context.Context, productID string) (int, error) {
	deleted := 0
	for id, row := range st.units {
		if row.unit.Status != domain.UnitStatusInactive {
			continue
		}
		if productID != "" && row.unit.ProductID != productID {
			continue
		}
		st.deleteUnit(id)
		deleted++
	}
	return deleted, nil
}

func (st *state) ListExpiredStockUnits(_ context.Context, asOf time.Time) ([]domain.StockUnit, error) {
	rows := make([]unitRow, 0, 16)
	for _, row := range st.units {
		if row.unit.ExpiredAsOf(asOf) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b unitRow) int {
		if c := cmpString(a.unit.ProductID, b.unit.ProductID); c != 0 {
			return c
		}
		return int(a.seq - b.seq)
	})
	return unitsOf(rows), nil
}

func (st *state) DeleteStockUnits(_ context.Context, unitIDs []string) (int, error) {
	deleted := 0
	for _, id := range unitIDs {
		if _, ok := st.units[id]; !ok {
			continue
		}
		st.deleteUnit(id)
		deleted++
	}
	return deleted, nil
}

func (st *state) deleteUnit(id string) {
	row := st.units[id]
	delete(st.unitIDByBarcode, row.unit.Barcode)
	delete(st.units, id)
}

func (st *state) InsertSale(_ context.Context, sale domain.SaleRecord) error {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	for _, existing := range st.sales {
		if existing.ID == sale.ID {
			return store.ErrInvalidTransaction
		}
	}
	st.sales = append(st.sales, cloneSale(sale))
	return nil
}

func (st *state) LockLatestSale(_ context.Context) (*domain.SaleRecord, error) {
	if len(st.sales) == 0 {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(st.sales[len(st.sales)-1])
	return &sale, nil
}

func (st *state) SetSaleStatus(_ context.Context, saleID string, status domain.SaleStatus, at time.Time) error {
	for i := range st.sales {
		if st.sales[i].ID != saleID {
			continue
		}
		st.sales[i].Status = status
		if status == domain.SaleStatusCancelled {
			cancelledAt := at.UTC()
			st.sales[i].CancelledAt = &cancelledAt
		}
		return nil
	}
	return store.ErrNotFound
}

func newestFirst(a, b unitRow) int {
	if c := b.unit.IngressAt.Compare(a.unit.IngressAt); c != 0 {
		return c
	}
	switch {
	case a.seq > b.seq:
		return -1
	case a.seq < b.seq:
		return 1
	}
	return 0
}

func unitsOf(rows []unitRow) []domain.StockUnit {
	units := make([]domain.StockUnit, 0, len(rows))
	for _, row := range rows {
		units = append(units, cloneUnit(row.unit))
	}
	return units
}

func cloneUnit(src domain.StockUnit) domain.StockUnit {
	out := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		out.ExpiryDate = &expiry
	}
	return out
}

func cloneSale(src domain.SaleRecord) domain.SaleRecord {
	out := src
	out.Lines = append([]domain.SaleLineItem(nil), src.Lines...)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		out.CancelledAt = &at
	}
	return out
}
