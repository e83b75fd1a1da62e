package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

// PurgeExpired deletes every unit whose expiry date is on or before asOf and
// lowers each affected product's aggregate by the number of rows removed,
// never below zero. The whole sweep is one unit of work.
func (s *Service) PurgeExpired(ctx context.Context, asOf time.Time) (int, error) {
	asOf = domain.DateUTC(asOf)

	deleted := 0
	affected := make(map[string]int)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		expired, err := tx.ListExpiredStockUnits(ctx, asOf)
		if err != nil || len(expired) == 0 {
			return err
		}

		ids := make([]string, 0, len(expired))
		order := make([]string, 0, 8)
		for _, unit := range expired {
			ids = append(ids, unit.ID)
			if _, seen := affected[unit.ProductID]; !seen {
				order = append(order, unit.ProductID)
			}
			affected[unit.ProductID]++
		}

		deleted, err = tx.DeleteStockUnits(ctx, ids)
		if err != nil {
			return err
		}

		for _, productID := range order {
			product, err := tx.LockProduct(ctx, productID)
			if err != nil {
				return err
			}
			next := product.Quantity.Sub(decimal.NewFromInt(int64(affected[productID])))
			if next.IsNegative() {
				next = decimal.Zero
			}
			if _, err := s.setQuantityTx(ctx, tx, *product, next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logAudit(ctx, "unit_purge_expired", "stock_unit", "*",
			zap.Time("as_of", asOf),
			zap.Int("deleted", deleted),
			zap.Int("products", len(affected)))
	}
	return deleted, nil
}
