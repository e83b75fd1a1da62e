package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kasirstok/backend/internal/barcode"
	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/xid"
)

// CreateUnit registers one physical unit without touching the aggregate.
// A blank barcode is generated for the product's kind; a supplied one must
// be 13 letters or digits and unused.
func (s *Service) CreateUnit(ctx context.Context, req domain.StockUnitCreateRequest) (domain.StockUnit, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Barcode))
	if code != "" && !barcode.Valid(code) {
		return domain.StockUnit{}, fmt.Errorf("%w: barcode must be %d letters or digits", store.ErrInvalidTransaction, barcode.Length)
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.StockUnit{}, err
	}

	var unit domain.StockUnit
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, strings.TrimSpace(req.ProductID))
		if err != nil {
			return err
		}

		if code == "" {
			units, err := s.createUnitsTx(ctx, tx, *product, 1, unitTemplate{expiry: expiry, notes: req.Notes})
			if err != nil {
				return err
			}
			unit = units[0]
			return nil
		}

		exists, err := tx.BarcodeExists(ctx, code)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", store.ErrDuplicateBarcode, code)
		}
		now := s.now()
		unit = domain.StockUnit{
			ID:         xid.New("unit"),
			ProductID:  product.ID,
			Barcode:    code,
			Status:     domain.UnitStatusActive,
			IngressAt:  now,
			UpdatedAt:  now,
			ExpiryDate: expiry,
			Notes:      appendNote("", now, "received: "+nonEmpty(req.Notes, "manual entry")),
		}
		return tx.InsertStockUnit(ctx, unit)
	})
	if err != nil {
		return domain.StockUnit{}, err
	}

	s.logAudit(ctx, "unit_create", "stock_unit", unit.ID, zap.String("barcode", unit.Barcode))
	return unit, nil
}

func (s *Service) FindUnitByBarcode(ctx context.Context, code string) (domain.StockUnit, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.StockUnit{}, store.ErrInvalidTransaction
	}
	unit, err := s.repo.GetStockUnitByBarcode(ctx, code)
	if err != nil {
		return domain.StockUnit{}, err
	}
	return *unit, nil
}

// DeactivateUnit retires a unit addressed by id or barcode. Deactivating an
// inactive unit is a no-op.
func (s *Service) DeactivateUnit(ctx context.Context, ref domain.UnitRef, reason string) (domain.StockUnit, error) {
	return s.changeUnitStatus(ctx, ref, domain.UnitStatusInactive, "deactivated: "+nonEmpty(reason, "manual"))
}

func (s *Service) ReactivateUnit(ctx context.Context, unitID string) (domain.StockUnit, error) {
	return s.changeUnitStatus(ctx, domain.UnitRef{ID: unitID}, domain.UnitStatusActive, "reactivated")
}

func (s *Service) changeUnitStatus(ctx context.Context, ref domain.UnitRef, status domain.UnitStatus, note string) (domain.StockUnit, error) {
	var updated domain.StockUnit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		unit, err := resolveUnit(ctx, tx, ref)
		if err != nil {
			return err
		}
		updated, err = s.setUnitStatusTx(ctx, tx, *unit, status, note)
		return err
	})
	if err != nil {
		return domain.StockUnit{}, err
	}

	s.logAudit(ctx, "unit_"+string(status), "stock_unit", updated.ID, zap.String("barcode", updated.Barcode))
	return updated, nil
}

func resolveUnit(ctx context.Context, tx store.Tx, ref domain.UnitRef) (*domain.StockUnit, error) {
	id := strings.TrimSpace(ref.ID)
	code := strings.ToUpper(strings.TrimSpace(ref.Barcode))
	switch {
	case id != "":
		return tx.GetStockUnit(ctx, id)
	case code != "":
		return tx.GetStockUnitByBarcode(ctx, code)
	default:
		return nil, store.ErrInvalidTransaction
	}
}

func (s *Service) setUnitStatusTx(ctx context.Context, tx store.Tx, unit domain.StockUnit, status domain.UnitStatus, note string) (domain.StockUnit, error) {
	if unit.Status == status {
		return unit, nil
	}
	now := s.now()
	unit.Status = status
	unit.UpdatedAt = now
	unit.Notes = appendNote(unit.Notes, now, note)
	if err := tx.UpdateStockUnit(ctx, unit); err != nil {
		return domain.StockUnit{}, err
	}
	return unit, nil
}

// ListUnits lists a product's units newest first, optionally filtered by status.
func (s *Service) ListUnits(ctx context.Context, productID string, status domain.UnitStatus) ([]domain.StockUnit, error) {
	if status != "" && !status.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	productID = strings.TrimSpace(productID)
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListStockUnits(ctx, productID, status)
}

// PurgeInactiveUnits permanently deletes inactive units of one product, or
// of every product when productID is empty.
func (s *Service) PurgeInactiveUnits(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)

	deleted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if productID != "" {
			if _, err := tx.GetProduct(ctx, productID); err != nil {
				return err
			}
		}
		var err error
		deleted, err = tx.DeleteInactiveStockUnits(ctx, productID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logAudit(ctx, "unit_purge_inactive", "product", nonEmpty(productID, "*"), zap.Int("deleted", deleted))
	return deleted, nil
}

// CleanupGhostUnits retires active units left behind on a product whose
// aggregate is zero. It is a no-op for products that still hold stock.
func (s *Service) CleanupGhostUnits(ctx context.Context, productID string) (int, error) {
	cleaned := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.LockProduct(ctx, strings.TrimSpace(productID))
		if err != nil {
			return err
		}
		if !product.Quantity.IsZero() {
			return nil
		}
		cleaned, err = s.cleanupGhostsTx(ctx, tx, product.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return cleaned, nil
}

func (s *Service) cleanupGhostsTx(ctx context.Context, tx store.Tx, productID string) (int, error) {
	active, err := tx.ListStockUnits(ctx, productID, domain.UnitStatusActive)
	if err != nil {
		return 0, err
	}
	for _, unit := range active {
		if _, err := s.setUnitStatusTx(ctx, tx, unit, domain.UnitStatusInactive, "ghost cleanup: aggregate reached zero"); err != nil {
			return 0, err
		}
	}
	if len(active) > 0 {
		s.log(ctx).Info("ghost units deactivated", zap.String("product_id", productID), zap.Int("count", len(active)))
	}
	return len(active), nil
}

func appendNote(notes string, at time.Time, msg string) string {
	line := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), msg)
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
