package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/xid"
)

// unitTemplate carries the optional attributes stamped on newly received units.
type unitTemplate struct {
	expiry *time.Time
	notes  string
}

// AdjustStock moves a product's aggregate quantity by delta, in the
// product's native unit, and keeps the unit ledger in step for discrete
// products. A result below zero fails with store.ErrInsufficientStock and
// changes nothing.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta decimal.Decimal) (domain.Product, error) {
	var updated domain.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.LockProduct(ctx, strings.TrimSpace(productID))
		if err != nil {
			return err
		}
		updated, _, err = s.adjustStockTx(ctx, tx, *product, delta, unitTemplate{notes: "stock adjustment"})
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", updated.ID,
		zap.String("delta", delta.String()),
		zap.String("quantity", updated.Quantity.String()))
	return updated, nil
}

// ReceiveStock books incoming goods. Discrete products gain one unit per
// item; divisible products gain weight plus one batch row carrying the
// expiry date.
func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiptRequest) (domain.StockReceipt, error) {
	if !req.Quantity.IsPositive() {
		return domain.StockReceipt{}, store.ErrInvalidTransaction
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.StockReceipt{}, err
	}

	var receipt domain.StockReceipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.LockProduct(ctx, strings.TrimSpace(req.ProductID))
		if err != nil {
			return err
		}
		receipt, err = s.receiveTx(ctx, tx, *product, req.Quantity, unitTemplate{expiry: expiry, notes: strings.TrimSpace(req.Notes)})
		return err
	})
	if err != nil {
		return domain.StockReceipt{}, err
	}

	s.logAudit(ctx, "stock_receive", "product", receipt.Product.ID,
		zap.String("quantity", req.Quantity.String()),
		zap.Int("units", len(receipt.Units)))
	return receipt, nil
}

func (s *Service) receiveTx(ctx context.Context, tx store.Tx, product domain.Product, qty decimal.Decimal, tmpl unitTemplate) (domain.StockReceipt, error) {
	if !product.IsDivisible() {
		updated, units, err := s.adjustStockTx(ctx, tx, product, qty, tmpl)
		if err != nil {
			return domain.StockReceipt{}, err
		}
		return domain.StockReceipt{Product: updated, Units: units}, nil
	}

	updated, err := s.applyAggregateDelta(ctx, tx, product, qty)
	if err != nil {
		return domain.StockReceipt{}, err
	}
	units, err := s.createUnitsTx(ctx, tx, product, 1, tmpl)
	if err != nil {
		return domain.StockReceipt{}, err
	}
	return domain.StockReceipt{Product: updated, Units: units}, nil
}

func (s *Service) adjustStockTx(ctx context.Context, tx store.Tx, product domain.Product, delta decimal.Decimal, tmpl unitTemplate) (domain.Product, []domain.StockUnit, error) {
	if !product.IsDivisible() && !delta.IsInteger() {
		return domain.Product{}, nil, fmt.Errorf("%w: %s is counted in whole units", store.ErrInvalidTransaction, product.Name)
	}
	if delta.IsZero() {
		return product, nil, nil
	}
	if err := checkStock(product, delta); err != nil {
		return domain.Product{}, nil, err
	}

	var created []domain.StockUnit
	if !product.IsDivisible() {
		count := int(delta.Abs().IntPart())
		if delta.IsPositive() {
			units, err := s.createUnitsTx(ctx, tx, product, count, tmpl)
			if err != nil {
				return domain.Product{}, nil, err
			}
			created = units
		} else if err := s.deactivateNewestTx(ctx, tx, product, count); err != nil {
			return domain.Product{}, nil, err
		}
	}

	updated, err := s.applyAggregateDelta(ctx, tx, product, delta)
	if err != nil {
		return domain.Product{}, nil, err
	}
	return updated, created, nil
}

// applyAggregateDelta changes only the aggregate quantity, then runs
// ghost-unit cleanup if the product reached zero.
func (s *Service) applyAggregateDelta(ctx context.Context, tx store.Tx, product domain.Product, delta decimal.Decimal) (domain.Product, error) {
	if err := checkStock(product, delta); err != nil {
		return domain.Product{}, err
	}
	return s.setQuantityTx(ctx, tx, product, product.Quantity.Add(delta))
}

func (s *Service) setQuantityTx(ctx context.Context, tx store.Tx, product domain.Product, qty decimal.Decimal) (domain.Product, error) {
	now := s.now()
	if err := tx.SetProductQuantity(ctx, product.ID, qty, now); err != nil {
		return domain.Product{}, err
	}
	product.Quantity = qty
	product.UpdatedAt = now

	if qty.IsZero() {
		if _, err := s.cleanupGhostsTx(ctx, tx, product.ID); err != nil {
			return domain.Product{}, err
		}
	}
	return product, nil
}

func checkStock(product domain.Product, delta decimal.Decimal) error {
	if product.Quantity.Add(delta).IsNegative() {
		return fmt.Errorf("%w: %s has %s, requested %s", store.ErrInsufficientStock, product.Name, product.Quantity, delta.Neg())
	}
	return nil
}

func (s *Service) createUnitsTx(ctx context.Context, tx store.Tx, product domain.Product, count int, tmpl unitTemplate) ([]domain.StockUnit, error) {
	now := s.now()
	units := make([]domain.StockUnit, 0, count)
	for i := 0; i < count; i++ {
		var (
			code string
			err  error
		)
		if product.IsDivisible() {
			code, err = s.barcodes.Bulk(ctx, tx)
		} else {
			code, err = s.barcodes.Discrete(ctx, tx)
		}
		if err != nil {
			return nil, err
		}

		unit := domain.StockUnit{
			ID:         xid.New("unit"),
			ProductID:  product.ID,
			Barcode:    code,
			Status:     domain.UnitStatusActive,
			IngressAt:  now,
			UpdatedAt:  now,
			ExpiryDate: tmpl.expiry,
			Notes:      appendNote("", now, "received: "+nonEmpty(tmpl.notes, "stock receipt")),
		}
		if err := tx.InsertStockUnit(ctx, unit); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

// deactivateNewestTx retires count active units, most recent ingress first.
// A shortfall is a ledger discrepancy: logged, or fatal in strict mode.
func (s *Service) deactivateNewestTx(ctx context.Context, tx store.Tx, product domain.Product, count int) error {
	active, err := tx.ListStockUnits(ctx, product.ID, domain.UnitStatusActive)
	if err != nil {
		return err
	}
	if len(active) < count {
		if s.opts.StrictLedger {
			return fmt.Errorf("%w: %s needs %d active units, found %d", store.ErrLedgerDiscrepancy, product.ID, count, len(active))
		}
		s.log(ctx).Warn("ledger discrepancy",
			zap.String("product_id", product.ID),
			zap.Int("requested", count),
			zap.Int("available", len(active)))
		count = len(active)
	}

	for _, unit := range active[:count] {
		if _, err := s.setUnitStatusTx(ctx, tx, unit, domain.UnitStatusInactive, "stock reduced"); err != nil {
			return err
		}
	}
	return nil
}

func nonEmpty(val string, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
