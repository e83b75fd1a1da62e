package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/xid"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNothingToCancel   = errors.New("no sale to cancel")
	ErrTransactionFailed = errors.New("sale transaction failed")
)

// ConfirmSale turns the cart into a sale and applies its stock effects in
// one unit of work. On failure nothing is persisted, the returned error
// wraps ErrTransactionFailed and the cause, and the cart is left as it was.
// On success the cart is cleared.
func (s *Service) ConfirmSale(ctx context.Context, c *cart.Cart, paymentMethod string, userID string) (domain.SaleReceipt, error) {
	items := c.Items()
	if len(items) == 0 {
		return domain.SaleReceipt{}, ErrEmptyCart
	}
	paymentMethod = strings.ToLower(strings.TrimSpace(paymentMethod))
	if !isSupportedPaymentMethod(paymentMethod) {
		return domain.SaleReceipt{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, paymentMethod)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.SaleReceipt{}, fmt.Errorf("%w: user is required", store.ErrInvalidTransaction)
	}

	sale := domain.SaleRecord{
		ID:            xid.New("sale"),
		CreatedAt:     s.now(),
		Total:         decimal.Zero,
		PaymentMethod: paymentMethod,
		UserID:        userID,
		Status:        domain.SaleStatusActive,
		Lines:         make([]domain.SaleLineItem, 0, len(items)),
	}
	for _, item := range items {
		line := domain.SaleLineItem{
			SaleID:    sale.ID,
			UnitID:    item.UnitID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
			Origin:    item.Origin,
		}
		sale.Total = sale.Total.Add(line.Subtotal)
		sale.Lines = append(sale.Lines, line)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for _, line := range sale.Lines {
			if err := s.applySaleLineTx(ctx, tx, sale.ID, line); err != nil {
				return fmt.Errorf("line %s (%s): %w", line.ProductID, line.Origin, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log(ctx).Warn("sale rolled back", zap.String("sale_id", sale.ID), zap.Error(err))
		return domain.SaleReceipt{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	c.Clear()
	s.logAudit(ctx, "sale_confirm", "sale", sale.ID,
		zap.String("total", sale.Total.StringFixed(2)),
		zap.String("payment_method", sale.PaymentMethod),
		zap.Int("lines", len(sale.Lines)))

	return domain.SaleReceipt{
		SaleID:    sale.ID,
		Total:     sale.Total,
		Lines:     sale.Lines,
		CreatedAt: sale.CreatedAt,
	}, nil
}

func (s *Service) applySaleLineTx(ctx context.Context, tx store.Tx, saleID string, line domain.SaleLineItem) error {
	if !line.Origin.Valid() || !line.Quantity.IsPositive() {
		return store.ErrInvalidTransaction
	}
	product, err := tx.LockProduct(ctx, line.ProductID)
	if err != nil {
		return err
	}

	if line.Origin.TouchesUnit() {
		unit, err := tx.GetStockUnit(ctx, line.UnitID)
		if err != nil {
			return err
		}
		if !unit.IsActive() || unit.ProductID != product.ID {
			return fmt.Errorf("unit %s: %w", unit.Barcode, cart.ErrOutOfStock)
		}
		if _, err := s.setUnitStatusTx(ctx, tx, *unit, domain.UnitStatusInactive, "sold: "+saleID); err != nil {
			return err
		}
	}

	_, err = s.applyAggregateDelta(ctx, tx, *product, line.Quantity.Neg())
	return err
}

// CancelLastSale reverses the most recent sale: its quantities go back to
// the aggregates and by_barcode units are reactivated. Only that single
// sale can be cancelled, once.
func (s *Service) CancelLastSale(ctx context.Context) (domain.CancelResult, error) {
	var result domain.CancelResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.LockLatestSale(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNothingToCancel
		}
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusCancelled {
			return ErrNothingToCancel
		}

		if err := tx.SetSaleStatus(ctx, sale.ID, domain.SaleStatusCancelled, s.now()); err != nil {
			return err
		}
		for _, line := range sale.Lines {
			if err := s.restoreSaleLineTx(ctx, tx, sale.ID, line); err != nil {
				return fmt.Errorf("line %s (%s): %w", line.ProductID, line.Origin, err)
			}
		}
		result = domain.CancelResult{SaleID: sale.ID, RestoredLines: sale.Lines}
		return nil
	})
	if errors.Is(err, ErrNothingToCancel) {
		return domain.CancelResult{}, ErrNothingToCancel
	}
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	s.logAudit(ctx, "sale_cancel", "sale", result.SaleID, zap.Int("lines", len(result.RestoredLines)))
	return result, nil
}

func (s *Service) restoreSaleLineTx(ctx context.Context, tx store.Tx, saleID string, line domain.SaleLineItem) error {
	product, err := tx.LockProduct(ctx, line.ProductID)
	if err != nil {
		return err
	}
	if _, err := s.applyAggregateDelta(ctx, tx, *product, line.Quantity); err != nil {
		return err
	}

	if !s.reactivatesOnCancel(line.Origin) || line.UnitID == "" {
		return nil
	}
	unit, err := tx.GetStockUnit(ctx, line.UnitID)
	if errors.Is(err, store.ErrNotFound) {
		s.log(ctx).Warn("sold unit no longer in ledger",
			zap.String("sale_id", saleID),
			zap.String("unit_id", line.UnitID))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.setUnitStatusTx(ctx, tx, *unit, domain.UnitStatusActive, "sale cancelled: "+saleID)
	return err
}

func (s *Service) reactivatesOnCancel(origin domain.SaleOrigin) bool {
	if origin == domain.OriginByBarcode {
		return true
	}
	return origin == domain.OriginBulkByBarcode && s.opts.RestoreBulkBarcodeUnits
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleRecord, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListSales(ctx, limit)
}
